package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Stream writes conn's events to w as Server-Sent Events until ctx is done
// or the registry drops the connection. A comment line is sent every
// keepAlive so idle proxies keep the connection open.
func Stream(ctx context.Context, w http.ResponseWriter, conn *Conn, keepAlive time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "event: connected\ndata: {\"connectionId\":%q}\n\n", conn.ID); err != nil {
		return err
	}
	flusher.Flush()

	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		case e := <-conn.Events():
			payload, err := json.Marshal(e)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("event_id", e.ID).Msg("Failed to encode event, skipped")
				continue
			}
			if err := writeFrame(w, e, payload); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w io.Writer, e Event, payload []byte) error {
	_, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, payload)
	return err
}
