package handler

import (
	"net/http"

	"go.uber.org/zap"
)

// BeginLogin перенаправляет пользователя на страницу входа провайдера.
func (h *Handler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	if h.authenticator == nil {
		writeError(w, http.StatusNotFound, "")
		return
	}
	h.authenticator.BeginAuth(w, r)
}

// LoginCallback завершает вход: создаёт или находит пользователя и выставляет cookie авторизации.
func (h *Handler) LoginCallback(w http.ResponseWriter, r *http.Request) {
	if h.authenticator == nil {
		writeError(w, http.StatusNotFound, "")
		return
	}

	id, err := h.authenticator.CompleteAuth(w, r)
	if err != nil {
		h.logger.Warn("oauth callback error", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "")
		return
	}

	user, err := h.service.LoginWithProvider(r.Context(), id.Provider, id.AccountID, id.Name, id.Email)
	if err != nil {
		h.writeServiceError(w, err, "login with provider error",
			zap.String("provider", id.Provider),
			zap.String("account_id", id.AccountID),
		)
		return
	}

	h.authMiddleware.SetAuthCookie(w, user.ID)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout завершает сессию пользователя.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.authenticator != nil {
		if err := h.authenticator.Logout(w, r); err != nil {
			h.logger.Warn("oauth logout error", zap.Error(err))
		}
	}
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
