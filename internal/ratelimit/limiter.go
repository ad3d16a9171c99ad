// Package ratelimit throttles slot lock attempts per holder and per client IP.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Clock interface for testing time-dependent behavior.
type Clock interface {
	Now() time.Time
}

// realClock implements Clock using the system time.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config holds rate limit configuration.
type Config struct {
	Window           time.Duration // Counting window (default: 1m)
	MaxPerHolder     int           // Lock attempts per holder per window (default: 20)
	MaxPerIP         int           // Lock attempts per IP per window (default: 60)
	ConflictCooldown time.Duration // Pause after MaxConflicts conflicts in a window (default: 30s)
	MaxConflicts     int           // Conflicts per holder before the cooldown (default: 10)

	// Clock for testing (nil uses real time)
	Clock Clock
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		Window:           time.Minute,
		MaxPerHolder:     20,
		MaxPerIP:         60,
		ConflictCooldown: 30 * time.Second,
		MaxConflicts:     10,
	}
}

// LimitResult contains the result of a rate limit check.
type LimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     string // For logging
}

// entry tracks request counts and timestamps.
type entry struct {
	count     int
	conflicts int
	firstAt   time.Time // First request in window
	lastAt    time.Time // Most recent request
	pausedAt  time.Time // When a conflict cooldown started (zero if none)
}

// Limiter implements per-holder and per-IP limits for lock attempts.
type Limiter struct {
	config *Config
	clock  Clock
	mu     sync.RWMutex
	// Keyed by hash of holder or IP
	byHolder map[string]*entry
	byIP     map[string]*entry

	// Cleanup goroutine management
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupOnce   sync.Once
	cleanupWg     sync.WaitGroup
}

// New creates a new rate limiter with the given config.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Limiter{
		config:        cfg,
		clock:         clock,
		byHolder:      make(map[string]*entry),
		byIP:          make(map[string]*entry),
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
}

// Close stops the cleanup goroutine and releases resources.
func (l *Limiter) Close() {
	l.cleanupCancel()
	l.cleanupWg.Wait()
}

// CheckLockAttempt checks if a lock attempt is allowed.
// Does NOT record the attempt - call RecordLockAttempt once the request is valid.
func (l *Limiter) CheckLockAttempt(holderID, ip string) LimitResult {
	l.startCleanup()
	now := l.clock.Now()
	holderKey := l.hashKey("holder:", normalizeIdentifier(holderID))
	ipKey := l.hashKey("ip:", ip)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if e := l.byHolder[holderKey]; e != nil {
		if !e.pausedAt.IsZero() {
			elapsed := now.Sub(e.pausedAt)
			if elapsed < l.config.ConflictCooldown {
				return LimitResult{
					Allowed:    false,
					RetryAfter: l.config.ConflictCooldown - elapsed,
					Reason:     "conflict_cooldown",
				}
			}
		}
		if l.config.MaxPerHolder > 0 && now.Sub(e.firstAt) < l.config.Window && e.count >= l.config.MaxPerHolder {
			return LimitResult{
				Allowed:    false,
				RetryAfter: l.config.Window - now.Sub(e.firstAt),
				Reason:     "holder_limit",
			}
		}
	}

	if e := l.byIP[ipKey]; e != nil {
		if l.config.MaxPerIP > 0 && now.Sub(e.firstAt) < l.config.Window && e.count >= l.config.MaxPerIP {
			return LimitResult{
				Allowed:    false,
				RetryAfter: l.config.Window - now.Sub(e.firstAt),
				Reason:     "ip_limit",
			}
		}
	}

	return LimitResult{Allowed: true}
}

// RecordLockAttempt counts one attempt against holder and IP.
func (l *Limiter) RecordLockAttempt(holderID, ip string) {
	now := l.clock.Now()
	holderKey := l.hashKey("holder:", normalizeIdentifier(holderID))
	ipKey := l.hashKey("ip:", ip)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.bump(l.byHolder, holderKey, now)
	l.bump(l.byIP, ipKey, now)
}

// RecordConflict counts a lost race for holder. Returns true when the holder
// just entered the conflict cooldown.
func (l *Limiter) RecordConflict(holderID string) (paused bool) {
	if l.config.MaxConflicts <= 0 {
		return false
	}
	now := l.clock.Now()
	holderKey := l.hashKey("holder:", normalizeIdentifier(holderID))

	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.byHolder[holderKey]
	if e == nil {
		e = &entry{firstAt: now, lastAt: now}
		l.byHolder[holderKey] = e
	}
	e.lastAt = now
	if !e.pausedAt.IsZero() && now.Sub(e.pausedAt) >= l.config.ConflictCooldown {
		e.pausedAt = time.Time{}
		e.conflicts = 0
	}
	e.conflicts++
	if e.conflicts >= l.config.MaxConflicts && e.pausedAt.IsZero() {
		e.pausedAt = now
		paused = true
	}
	return paused
}

// bump counts one attempt, starting a new window when the old one lapsed.
// An active conflict cooldown survives window resets.
func (l *Limiter) bump(entries map[string]*entry, key string, now time.Time) {
	e := entries[key]
	if e == nil {
		entries[key] = &entry{count: 1, firstAt: now, lastAt: now}
		return
	}
	if now.Sub(e.firstAt) >= l.config.Window {
		e.count = 0
		e.firstAt = now
		if e.pausedAt.IsZero() {
			e.conflicts = 0
		}
	}
	e.count++
	e.lastAt = now
}

func (l *Limiter) hashKey(prefix, value string) string {
	hash := sha256.Sum256([]byte(value))
	return prefix + hex.EncodeToString(hash[:8])
}

// normalizeIdentifier lowercases the identifier to prevent case-based bypass.
func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func (l *Limiter) startCleanup() {
	l.cleanupOnce.Do(func() {
		l.cleanupWg.Add(1)
		go func() {
			defer l.cleanupWg.Done()
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-l.cleanupCtx.Done():
					return
				case <-ticker.C:
					l.cleanup()
				}
			}
		}()
	})
}

func (l *Limiter) cleanup() {
	now := l.clock.Now()
	maxAge := l.config.Window + l.config.ConflictCooldown
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, e := range l.byHolder {
		if now.Sub(e.lastAt) > maxAge {
			delete(l.byHolder, k)
		}
	}
	for k, e := range l.byIP {
		if now.Sub(e.lastAt) > l.config.Window {
			delete(l.byIP, k)
		}
	}
}

// GetClientIP extracts the client IP from a request.
// When trustProxy is true, uses the rightmost IP from X-Forwarded-For (added by your proxy).
// When trustProxy is false, ignores X-Forwarded-For entirely (prevents spoofing).
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Use RIGHTMOST IP - this is the one your proxy added, not user-supplied
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				// Skip private/internal IPs to find the real client
				if ip != "" && !isPrivateIP(ip) {
					return ip
				}
			}
			// All IPs are private, use the last one
			return strings.TrimSpace(parts[len(parts)-1])
		}

		// Check X-Real-IP (set by nginx)
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	// Fall back to RemoteAddr (direct connection or untrusted proxy)
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port (e.g., Unix socket or malformed)
		// Try to parse as IP directly, otherwise return as-is
		if parsed := net.ParseIP(r.RemoteAddr); parsed != nil {
			return r.RemoteAddr
		}
		// Last resort: strip anything after last colon that looks like a port
		if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
			candidate := r.RemoteAddr[:idx]
			if net.ParseIP(candidate) != nil {
				return candidate
			}
		}
		return r.RemoteAddr
	}
	return ip
}

// privateNetworks holds parsed CIDR ranges for private/reserved IPs.
// Parsed once at package init for efficiency.
var privateNetworks []*net.IPNet

func init() {
	privateRanges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"::1/128",
		"fc00::/7",
		"fe80::/10", // Link-local
	}
	for _, cidr := range privateRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid private CIDR: " + cidr)
		}
		privateNetworks = append(privateNetworks, network)
	}
}

// isPrivateIP checks if an IP is in a private/reserved range.
// Handles both IPv4 and IPv4-mapped IPv6 addresses (e.g., ::ffff:192.168.1.1).
func isPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	// Convert IPv4-mapped IPv6 to IPv4 for consistent matching
	// e.g., ::ffff:192.168.1.1 -> 192.168.1.1
	if ipv4 := ip.To4(); ipv4 != nil {
		ip = ipv4
	}

	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// SanitizeIdentifier masks a holder id for logging. Emails keep their domain.
func SanitizeIdentifier(identifier string) string {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if strings.Contains(identifier, "@") {
		parts := strings.Split(identifier, "@")
		if len(parts[0]) > 2 {
			return parts[0][:2] + "***@" + parts[1]
		}
		return "***@" + parts[1]
	}
	if len(identifier) >= 4 {
		return "***" + identifier[len(identifier)-4:]
	}
	return "***"
}

// LogRateLimitExceeded logs a rate limit event with sanitized identifier.
func LogRateLimitExceeded(limitType, identifier, ip, reason string) {
	log.Warn().
		Str("event", "rate_limit_exceeded").
		Str("type", limitType).
		Str("identifier", SanitizeIdentifier(identifier)).
		Str("ip", ip).
		Str("reason", reason).
		Msg("Lock attempt rate limit exceeded")
}
