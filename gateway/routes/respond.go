package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"votechain/gateway/middleware"
	"votechain/ledger"
	"votechain/verification"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, "VTC-500", "failed to encode response", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body required")
		}
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func writeBadRequest(w http.ResponseWriter, message string) {
	middleware.WriteError(w, http.StatusBadRequest, "VTC-400", message, nil)
}

// writeServiceError maps workflow and ledger errors onto the error envelope.
func (s *server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"error", err.Error())
		message = "internal server error"
	}
	middleware.WriteError(w, status, code, message, nil)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, verification.ErrNotEligible):
		return http.StatusForbidden, "VTC-403"
	case errors.Is(err, verification.ErrProfileNotFound),
		errors.Is(err, ledger.ErrBlockNotFound):
		return http.StatusNotFound, "VTC-404"
	case errors.Is(err, verification.ErrProfileExists),
		errors.Is(err, verification.ErrVoterIDTaken),
		errors.Is(err, ledger.ErrChainConflict):
		return http.StatusConflict, "VTC-409"
	case errors.Is(err, verification.ErrProfileRequired),
		errors.Is(err, verification.ErrInvalidProfile),
		errors.Is(err, verification.ErrNoSession),
		errors.Is(err, verification.ErrUnknownStep),
		errors.Is(err, verification.ErrOutOfSequence),
		errors.Is(err, verification.ErrBiometricRequired),
		errors.Is(err, verification.ErrBiometricMismatch),
		errors.Is(err, verification.ErrOTPFormat),
		errors.Is(err, verification.ErrOTPMismatch),
		errors.Is(err, verification.ErrOTPExpired),
		errors.Is(err, verification.ErrOTPNotVerified),
		errors.Is(err, verification.ErrReadyNotInProgress),
		errors.Is(err, ledger.ErrTimestampRange):
		return http.StatusBadRequest, "VTC-400"
	}
	return http.StatusInternalServerError, "VTC-500"
}

func subject(r *http.Request) string {
	p, _ := middleware.PrincipalFrom(r.Context())
	return strings.TrimSpace(p.Subject)
}
