// ABOUTME: Request decoding, validation, and JSON/SSE response helpers
// ABOUTME: Maps domain errors onto HTTP status codes

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/2389/fanlink/internal/archive"
	"github.com/2389/fanlink/internal/backend"
	"github.com/2389/fanlink/internal/chatlog"
	"github.com/2389/fanlink/internal/conversation"
	"github.com/2389/fanlink/internal/live"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// errValidation marks a request body that failed decoding or validation
var errValidation = errors.New("invalid request")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateRequest checks payload against its validate tags
func validateRequest(payload any) error {
	err := getValidator().Struct(payload)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %s", errValidation, err.Error())
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", errValidation, strings.Join(msgs, "; "))
}

// decodeRequest reads a JSON body into dst and validates it
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body", errValidation)
	}
	return validateRequest(dst)
}

// errorResponse is the body of every error reply
type errorResponse struct {
	Error string `json:"error"`
	ID    string `json:"id,omitempty"`
}

// statusFor maps a domain error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, errValidation),
		errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, live.ErrInvalidEvent),
		errors.Is(err, live.ErrInvalidViewerCount):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrInvalidTransition),
		errors.Is(err, conversation.ErrSessionClosed),
		errors.Is(err, chatlog.ErrSealed),
		errors.Is(err, live.ErrDuplicateEvent):
		return http.StatusConflict
	case errors.Is(err, live.ErrInvalidTipAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, conversation.ErrSessionStart),
		errors.Is(err, backend.ErrUnavailable),
		errors.Is(err, backend.ErrRejected):
		return http.StatusBadGateway
	case errors.Is(err, backend.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError replies with the status for err. Internal errors are logged and
// not echoed to the client.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error, id string) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		msg = "internal server error"
	}
	g.writeJSON(w, status, errorResponse{Error: msg, ID: id})
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, errorResponse{Error: message})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// startSSE sets the event-stream headers. It fails when w cannot flush.
func (g *Gateway) startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON)
	return err
}
