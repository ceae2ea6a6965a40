package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// requireAuth gates a route subtree behind the configured token list. With
// no tokens configured the API runs open.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.conf.AuthTokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		ok := false
		// Check every token so response timing doesn't depend on which one
		// matched.
		for _, t := range s.conf.AuthTokens {
			if subtle.ConstantTimeCompare([]byte(t), []byte(header)) == 1 {
				ok = true
			}
		}
		if !ok {
			writeText(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxBodyMiddleware rejects oversized requests up front when the client
// declares a length, and caps reads either way so a chunked upload can't
// sneak past the limit.
func maxBodyMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				writeText(w, http.StatusBadRequest,
					fmt.Sprintf("Max body is reached: %v > %v", r.ContentLength, limit))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger notes every request at debug level once the response is
// written.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request served")
	})
}
