package htmx

import (
	"net/http"
	"strings"
)

func IsRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("HX-Request"), "true")
}

// CurrentURL is the browser URL htmx reports for the triggering page.
func CurrentURL(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("HX-Current-URL"))
}
