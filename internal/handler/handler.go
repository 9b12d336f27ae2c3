// Package handler содержит HTTP-обработчики API витрины подписок.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/gateway"
	"github.com/mmeshcher/subscription-storefront/internal/middleware"
	"github.com/mmeshcher/subscription-storefront/internal/model"
	"github.com/mmeshcher/subscription-storefront/internal/oauth"
	"github.com/mmeshcher/subscription-storefront/internal/service"
	"github.com/mmeshcher/subscription-storefront/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ListPlans(ctx context.Context, privileged bool) ([]model.Plan, error)
	GetPlan(ctx context.Context, id string) (*model.Plan, error)
	CreatePlan(ctx context.Context, p *model.Plan) error
	UpdatePlan(ctx context.Context, id string, upd model.PlanUpdate) (*model.Plan, error)
	DeactivatePlan(ctx context.Context, id string) (*model.Plan, error)

	CreateOrders(ctx context.Context, userID int64, items []model.OrderItem) ([]model.Order, []model.ItemRejection, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetActivePlan(ctx context.Context, userID int64) (*model.Order, error)

	CreatePixPayment(ctx context.Context, userID int64, orderID string) (*gateway.PixIntent, error)
	HandlePaymentNotification(ctx context.Context, n gateway.Notification) (*service.ReconcileResult, error)

	LoginWithProvider(ctx context.Context, provider, providerAccountID, name, email string) (*model.User, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// Authenticator выполняет вход через внешнего провайдера учётных записей.
type Authenticator interface {
	BeginAuth(w http.ResponseWriter, r *http.Request)
	CompleteAuth(w http.ResponseWriter, r *http.Request) (*oauth.Identity, error)
	Logout(w http.ResponseWriter, r *http.Request) error
}

// Handler реализует HTTP-обработчики API витрины подписок.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	authenticator  Authenticator
	webhookSecret  string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// WithAuthenticator подключает вход через внешнего провайдера.
func (h *Handler) WithAuthenticator(a Authenticator) *Handler {
	h.authenticator = a
	return h
}

// WithWebhookSecret включает проверку подписи уведомлений платёжного шлюза.
func (h *Handler) WithWebhookSecret(secret string) *Handler {
	h.webhookSecret = secret
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error           string            `json:"error"`
	Fields          map[string]string `json:"fields,omitempty"`
	Status          string            `json:"status,omitempty"`
	UpstreamStatus  int               `json:"upstream_status,omitempty"`
	UpstreamMessage string            `json:"upstream_message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError выбирает код ответа по классу ошибки сервиса.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	var (
		verr       *validation.Error
		gwErr      *service.PaymentGatewayError
		pendingErr *service.OrderNotPendingError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: verr.Fields})
	case errors.As(err, &gwErr):
		h.logger.Warn(msg, append(fields, zap.Error(err))...)
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:           "payment gateway error",
			UpstreamStatus:  gwErr.StatusCode,
			UpstreamMessage: gwErr.Message,
		})
	case errors.As(err, &pendingErr):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Status: string(pendingErr.Status)})
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		writeError(w, http.StatusInternalServerError, "")
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// requireAdmin пропускает только пользователей с ролью администратора.
// Должен стоять после middleware аутентификации.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "")
			return
		}

		admin, err := h.service.IsAdmin(r.Context(), userID)
		if err != nil {
			h.logger.Error("check admin role error", zap.Error(err), zap.Int64("userID", userID))
			writeError(w, http.StatusInternalServerError, "")
			return
		}
		if !admin {
			writeError(w, http.StatusForbidden, "")
			return
		}

		next.ServeHTTP(w, r)
	})
}
