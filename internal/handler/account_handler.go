package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"nexsync-auth/internal/model"
	"nexsync-auth/internal/service"
	"nexsync-auth/pkg/apierror"
)

// AccountHandler serves admin lookups of other accounts.
type AccountHandler struct {
	service *service.AuthService
}

func NewAccountHandler(service *service.AuthService) *AccountHandler {
	return &AccountHandler{service: service}
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		writeError(w, apierror.BadRequest("account id is required", "id"))
		return
	}

	account, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", model.UserPayload{User: account})
}
