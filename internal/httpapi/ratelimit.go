package httpapi

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bizcheck/internal/ratelimit"
)

// limit wraps h in a fixed-window limit keyed by method, path and client IP.
func (r *Router) limit(l *ratelimit.Limiter, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		key := req.Method + ":" + req.URL.Path + ":" + clientIP(req)
		d := l.Allow(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		if !d.Allowed {
			r.deps.Metrics.IncRateLimited()
			retry := int(time.Until(d.Reset).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			log.Printf("rate limited key=%s reset=%s", key, d.Reset.Format(time.RFC3339))
			respondError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		h(w, req)
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
