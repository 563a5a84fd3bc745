package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agenttunnel/gateway/internal/gwerrors"
)

// statusFor maps a decision error to the HTTP status §6.4/§7 assign it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gwerrors.ErrAuthMissing),
		errors.Is(err, gwerrors.ErrAuthInvalid),
		errors.Is(err, gwerrors.ErrAuthRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, gwerrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, gwerrors.ErrBadJSON), errors.Is(err, gwerrors.ErrBodyRead):
		return http.StatusBadRequest
	case errors.Is(err, gwerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gwerrors.ErrTunnelUnknown),
		errors.Is(err, gwerrors.ErrMethodNotAllowed),
		errors.Is(err, gwerrors.ErrPathNotAllowed),
		errors.Is(err, gwerrors.ErrCommandNotWhitelisted),
		errors.Is(err, gwerrors.ErrForbiddenKeyword),
		errors.Is(err, gwerrors.ErrStrictModeEmpty),
		errors.Is(err, gwerrors.ErrPipelineWrongStep),
		errors.Is(err, gwerrors.ErrPipelineRunMissing),
		errors.Is(err, gwerrors.ErrPipelineTerminal),
		errors.Is(err, gwerrors.ErrPipelineConfigGone):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeDecisionError renders the {error, reason, tunnel, agent,
// expected_command?} body §7 specifies for policy and auth denials.
func writeDecisionError(w http.ResponseWriter, err *gwerrors.DecisionError) {
	body := map[string]interface{}{
		"error":  err.Error(),
		"reason": err.Error(),
	}
	if err.Tunnel != "" {
		body["tunnel"] = err.Tunnel
	}
	if err.Agent != "" {
		body["agent"] = err.Agent
	}
	if err.HasExpected {
		body["expected_command"] = err.ExpectedCommand
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err.Err))
	_ = json.NewEncoder(w).Encode(body)
}
