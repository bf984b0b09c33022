package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/zeebo/xxh3"

	"eidolon/codec"
)

// TimeNow is swapped in tests.
var TimeNow = time.Now

// APIError is the JSON body of every error response.
type APIError struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIError{Error: msg, Timestamp: TimeNow().UTC().Format(time.RFC3339)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := codec.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeCached writes v with a content-hash ETag and answers 304 when the
// client already holds the same body.
func (s *Server) writeCached(w http.ResponseWriter, r *http.Request, v any) {
	body, err := codec.Marshal(v)
	if err != nil {
		s.logger.Printf("api: %s: %v", r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "encoding failed")
		return
	}
	etag := fmt.Sprintf(`"%016x"`, xxh3.Hash(body))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withErrorLogging logs requests that end in a 4xx/5xx status.
func withErrorLogging(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := TimeNow()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= 400 {
			logger.Printf("api: %s %s -> %d (%dms)", r.Method, r.URL.Path, rec.status, time.Since(start).Milliseconds())
		}
	})
}
