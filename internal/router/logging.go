package router

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/contactsync/internal/auth"
	"github.com/sonroyaalmerol/contactsync/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
		r.ResponseWriter.WriteHeader(code)
	}
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func realIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xr := req.Header.Get("X-Real-IP"); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func statusOrDefault(st int) int {
	if st == 0 {
		return http.StatusOK
	}
	return st
}

// logRequests logs every request once it is served. Reads go out at debug,
// anything that changes state at info.
func (r *Router) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		var user string
		// filled in by recordUser once auth has run
		next.ServeHTTP(rec, req.WithContext(withUserSlot(req.Context(), &user)))

		dur := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(req.Method, strconv.Itoa(statusOrDefault(rec.status))).Inc()
		metrics.HTTPDuration.WithLabelValues(req.Method).Observe(dur.Seconds())

		var ev *zerolog.Event
		switch req.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			ev = r.logger.Debug()
		default:
			ev = r.logger.Info()
		}
		ev = ev.
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", statusOrDefault(rec.status)).
			Int("bytes", rec.bytes).
			Float64("duration_ms", float64(dur.Microseconds())/1000.0).
			Str("ip", realIP(req)).
			Str("user_agent", req.UserAgent())
		if user != "" {
			ev = ev.Str("user", user)
		}
		ev.Msg("http request")
	})
}

// recordUser stores the authenticated principal in the slot logRequests left.
func recordUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if p, ok := auth.PrincipalFrom(req.Context()); ok {
			if slot := userSlotFrom(req.Context()); slot != nil {
				*slot = p.UserID
			}
		}
		next.ServeHTTP(w, req)
	})
}
