package handler

import (
	"net/http"

	"nexsync-auth/internal/middleware"
	"nexsync-auth/internal/model"
	"nexsync-auth/internal/service"
	"nexsync-auth/pkg/apierror"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(service *service.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), payload.Email, payload.DisplayName, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "Account created successfully", model.UserPayload{User: user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Login successful", result)
}

// CheckAuth runs behind the access gate and echoes the resolved identity.
func (h *AuthHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("Authentication required"))
		return
	}

	writeSuccess(w, http.StatusOK, "User is authenticated", model.UserPayload{User: account})
}
