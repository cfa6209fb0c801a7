package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"page-capture/internal/capture"
	"page-capture/internal/myhttp"
	"strconv"
	"time"
)

const (
	messageMissingURL       = "Missing ?url="
	messageInvalidURL       = "Invalid ?url="
	messageTargetNotAllowed = "Target not allowed"
	messageCaptureFailed    = "Capture failed"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// Capture serves GET /capture?url=<target>. Engine diagnostics are logged and
// never returned to the caller.
func Capture(capturer capture.Capturer, cacheMaxAge time.Duration) http.HandlerFunc {
	cacheControl := fmt.Sprintf("s-maxage=%d, stale-while-revalidate", int64(cacheMaxAge.Seconds()))

	return func(w http.ResponseWriter, r *http.Request) {
		logger := myhttp.Logger(r.Context())

		image, err := capturer.Capture(r.Context(), capture.Request{
			TargetURL: r.URL.Query().Get("url"),
		})
		if err != nil {
			status, message := classify(err)
			switch {
			case errors.Is(r.Context().Err(), context.Canceled):
				logger.Debug("client closed connection during capture", "error", err)
			case status >= http.StatusInternalServerError:
				logger.Error("capture failed", "error", err)
			default:
				logger.Info("capture request rejected", "error", err)
			}
			writeError(w, status, message)
			return
		}

		w.Header().Set("Content-Type", image.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(image.Len()))
		w.Header().Set("Cache-Control", cacheControl)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(image.Data)
	}
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, capture.ErrMissingURL):
		return http.StatusBadRequest, messageMissingURL
	case errors.Is(err, capture.ErrTargetNotAllowed):
		return http.StatusBadRequest, messageTargetNotAllowed
	case errors.Is(err, capture.ErrInvalidRequest):
		return http.StatusBadRequest, messageInvalidURL
	}
	return http.StatusInternalServerError, messageCaptureFailed
}

func writeError(w http.ResponseWriter, status int, message string) {
	b, err := json.Marshal(ErrorResponse{Error: message})
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
