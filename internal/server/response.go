package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"match-reftool/internal/apperror"
	"match-reftool/internal/service"

	"github.com/rs/zerolog"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, kind = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrAuthentication):
		status, kind = http.StatusBadGateway, "upstream_auth_error"
	case errors.Is(err, apperror.ErrNetwork):
		status, kind = http.StatusGatewayTimeout, "upstream_unavailable"
	case errors.Is(err, apperror.ErrHTTP), errors.Is(err, apperror.ErrDecode):
		status, kind = http.StatusBadGateway, "upstream_error"
	case errors.Is(err, service.ErrEngineClosed):
		status, kind = http.StatusServiceUnavailable, "shutting_down"
	}

	resp := ErrorResponse{Error: kind, Message: "an internal error occurred"}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		resp.Message, resp.Field = appErr.Message, appErr.Field
	} else if status != http.StatusInternalServerError {
		resp.Message = err.Error()
	}

	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		logger.Debug().Err(err).Int("status", status).Msg("request rejected")
	}

	writeJSON(w, r, status, resp)
}
