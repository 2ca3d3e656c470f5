package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"codetalk/cmd/internal/auth/csrf"
	"codetalk/cmd/internal/auth/session"
	"codetalk/cmd/internal/chat"
	v1 "codetalk/shared/contracts/realtime/v1"
)

const (
	maxBodyBytes = 64 << 10

	csrfCookieName = csrf.DefaultCookieName
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeServiceError maps a chat error to its status and stable code.
func writeServiceError(w http.ResponseWriter, err error) {
	var rl session.RateLimitError
	if errors.As(err, &rl) {
		secs := int64(rl.RetryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, chat.HTTPStatus(err), chat.Code(err), chat.PublicMessage(err))
}

func writeBadInput(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, v1.CodeBadUserInput, msg)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int64(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeError(w, http.StatusTooManyRequests, v1.CodeRateLimitExceeded, "too many requests")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
