package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/candlekeep/candlekeep/internal/kberr"
)

// errorEnvelope is the uniform error body.
type errorEnvelope struct {
	ErrorCode string            `json:"error_code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// requestLogger logs one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)))
	})
}

// writeError renders an error through the kberr status mapping. Internal
// errors keep their detail in the log and go out opaque.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := kberr.HTTPStatus(err)

	envelope := errorEnvelope{
		ErrorCode: kberr.CodeOf(err),
		Message:   err.Error(),
	}
	var ke *kberr.Error
	if errors.As(err, &ke) {
		envelope.Message = ke.Message
		envelope.Details = ke.Details
		if ke.Suggestion != "" {
			if envelope.Details == nil {
				envelope.Details = map[string]string{}
			}
			envelope.Details["suggestion"] = ke.Suggestion
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		if envelope.ErrorCode == kberr.CodeInternal {
			envelope.Message = "internal error"
			envelope.Details = nil
		}
	}

	writeJSON(w, status, envelope)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return kberr.Wrap(kberr.CodeInvalidInput, err)
	}
	return nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
