package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"nexsync-auth/internal/auth"
	"nexsync-auth/internal/logger"
	"nexsync-auth/internal/model"
	"nexsync-auth/pkg/apierror"
)

const maxBodyBytes = 64 << 10

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := "Unexpected server error"

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatus
		code = apiErr.Code
		message = apiErr.Message
	} else if errors.Is(err, model.ErrDuplicateIdentity) {
		status = http.StatusConflict
		code = "DUPLICATE_IDENTITY"
		message = "An account with this email already exists"
	} else if errors.Is(err, model.ErrWeakCredential) {
		status = http.StatusBadRequest
		code = "WEAK_PASSWORD"
		message = "Password does not meet strength requirements"
	} else if errors.Is(err, model.ErrInvalidInput) {
		status = http.StatusBadRequest
		code = "BAD_REQUEST"
		message = "Invalid input"
	} else if errors.Is(err, model.ErrInvalidCredentials) {
		status = http.StatusUnauthorized
		code = "INVALID_CREDENTIALS"
		message = "Invalid email or password"
	} else if errors.Is(err, model.ErrUnauthorized) || errors.Is(err, auth.ErrInvalidToken) {
		status = http.StatusUnauthorized
		code = "UNAUTHORIZED"
		message = "Authentication required"
	} else if errors.Is(err, model.ErrForbidden) {
		status = http.StatusForbidden
		code = "FORBIDDEN"
		message = "Access denied"
	} else if errors.Is(err, model.ErrAccountNotFound) {
		status = http.StatusNotFound
		code = "NOT_FOUND"
		message = "Account not found"
	} else if errors.Is(err, model.ErrStorageUnavailable) {
		status = http.StatusServiceUnavailable
		code = "SERVICE_UNAVAILABLE"
		message = "Service temporarily unavailable"
		logger.LogError(slog.Default(), "storage unavailable", err)
	} else {
		logger.LogError(slog.Default(), "unhandled error in writeError", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Code:    code,
		Message: message,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apierror.BadRequest("Invalid JSON body", "")
	}
	return nil
}
