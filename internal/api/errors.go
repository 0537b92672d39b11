package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kalambet/clawkpit/internal/agentcontent"
	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/board"
	"github.com/kalambet/clawkpit/internal/pairing"
	"github.com/kalambet/clawkpit/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeErrorBody(w, code, errType, "", fmt.Sprintf(format, args...))
}

func writeErrorBody(w http.ResponseWriter, status int, errType, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{
		"message": msg,
		"type":    errType,
	}
	if code != "" {
		body["code"] = code
	}
	json.NewEncoder(w).Encode(map[string]any{"error": body})
}

type errorKind struct {
	target error
	status int
	typ    string
	code   string
}

var errorKinds = []errorKind{
	{storage.ErrNotFound, http.StatusNotFound, "not_found", "NOT_FOUND"},
	{board.ErrNoFieldsProvided, http.StatusBadRequest, "precondition_failed", "NO_FIELDS_PROVIDED"},
	{board.ErrDoneNoteRequired, http.StatusBadRequest, "precondition_failed", "DONE_NOTE_REQUIRED"},
	{board.ErrDropNoteRequired, http.StatusBadRequest, "precondition_failed", "DROP_NOTE_REQUIRED"},
	{board.ErrAIEditForbidden, http.StatusForbidden, "forbidden", "AI_EDIT_FORBIDDEN"},
	{agentcontent.ErrNotAForm, http.StatusBadRequest, "invalid_request_error", "NOT_A_FORM"},
	{pairing.ErrUserNotFound, http.StatusNotFound, "not_found", "USER_NOT_FOUND"},
	{pairing.ErrInvalidCode, http.StatusNotFound, "not_found", "INVALID_CODE"},
	{pairing.ErrCodeAlreadyUsed, http.StatusBadRequest, "pairing_error", "CODE_ALREADY_USED"},
	{pairing.ErrCodeExpired, http.StatusBadRequest, "pairing_error", "CODE_EXPIRED"},
	{pairing.ErrInvalidDeviceCode, http.StatusNotFound, "not_found", "INVALID_DEVICE_CODE"},
	{pairing.ErrExpired, http.StatusGone, "pairing_error", "EXPIRED"},
	{pairing.ErrAlreadyConsumed, http.StatusGone, "pairing_error", "ALREADY_CONSUMED"},
	{auth.ErrUnauthenticated, http.StatusUnauthorized, "authentication_error", "UNAUTHENTICATED"},
}

// writeError maps a domain error onto a status and error envelope.
func writeError(w http.ResponseWriter, err error) {
	var verr *board.ValidationError
	if errors.As(err, &verr) {
		writeErrorBody(w, http.StatusBadRequest, "invalid_request_error", "VALIDATION_ERROR", verr.Error())
		return
	}
	var rl *pairing.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
		writeErrorBody(w, http.StatusTooManyRequests, "rate_limit_error", "RATE_LIMITED", rl.Error())
		return
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			writeErrorBody(w, k.status, k.typ, k.code, err.Error())
			return
		}
	}
	slog.Error("request failed", "error", err)
	writeErrorBody(w, http.StatusInternalServerError, "api_error", "INTERNAL_ERROR", "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
