package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/middleware"
	"github.com/mmeshcher/subscription-storefront/internal/model"
	"github.com/mmeshcher/subscription-storefront/internal/validation"
)

type orderItemRequest struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" validate:"gte=0,lte=100"`
}

type createOrdersRequest struct {
	Items []orderItemRequest `json:"items" validate:"dive"`
}

type orderResponse struct {
	ID          string  `json:"id"`
	PlanID      string  `json:"planId"`
	PlanName    string  `json:"planName,omitempty"`
	PlanType    string  `json:"planType"`
	Status      string  `json:"status"`
	Quantity    int     `json:"quantity"`
	TotalAmount string  `json:"totalAmount"`
	Currency    string  `json:"currency"`
	PaymentID   *string `json:"paymentId,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	ExpiresAt   *string `json:"expiresAt,omitempty"`
}

func newOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:          o.ID,
		PlanID:      o.PlanID,
		PlanType:    string(o.Tier),
		Status:      string(o.Status),
		Quantity:    o.Quantity,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Currency:    o.Currency,
		PaymentID:   o.ExternalPaymentRef,
		CreatedAt:   o.CreatedAt.Format(time.RFC3339),
		ExpiresAt:   formatTime(o.ExpiresAt),
	}
	if o.Plan != nil {
		resp.PlanName = o.Plan.Name
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// CreateOrders создаёт заказы из корзины текущего пользователя.
// Отклонённые строки корзины в ответ не попадают.
func (h *Handler) CreateOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "")
		return
	}

	var req createOrdersRequest
	if err := decodeJSON(r, &req.Items); err != nil {
		writeError(w, http.StatusBadRequest, "")
		return
	}
	if err := validation.Struct(req); err != nil {
		h.writeServiceError(w, err, "create orders validation error")
		return
	}

	items := make([]model.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		tier, ok := model.ParsePriceTier(it.Type)
		if !ok {
			tier = model.PriceTier(strings.ToUpper(strings.TrimSpace(it.Type)))
		}
		items = append(items, model.OrderItem{
			PlanID:       strings.TrimSpace(it.ID),
			Tier:         tier,
			ClaimedPrice: it.Price,
			Quantity:     it.Quantity,
		})
	}

	orders, rejected, err := h.service.CreateOrders(r.Context(), userID, items)
	if err != nil {
		h.writeServiceError(w, err, "create orders error", zap.Int64("userID", userID))
		return
	}
	if len(rejected) > 0 {
		h.logger.Info("order items rejected",
			zap.Int64("userID", userID),
			zap.Int("rejected", len(rejected)),
			zap.Int("created", len(orders)),
		)
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetOrders возвращает заказы текущего пользователя, начиная с последнего.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "")
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "get orders error", zap.Int64("userID", userID))
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type activePlanResponse struct {
	PlanName       string   `json:"planName"`
	PlanType       string   `json:"planType"`
	Features       []string `json:"features"`
	OrderID        string   `json:"orderId"`
	OrderCreatedAt string   `json:"orderCreatedAt"`
	OrderExpiresAt *string  `json:"orderExpiresAt"`
}

// GetActivePlan возвращает действующий план текущего пользователя.
func (h *Handler) GetActivePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "")
		return
	}

	o, err := h.service.GetActivePlan(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, "get active plan error", zap.Int64("userID", userID))
		return
	}

	resp := activePlanResponse{
		PlanType:       string(o.Tier),
		Features:       []string{},
		OrderID:        o.ID,
		OrderCreatedAt: o.CreatedAt.Format(time.RFC3339),
		OrderExpiresAt: formatTime(o.ExpiresAt),
	}
	if o.Plan != nil {
		resp.PlanName = o.Plan.Name
		if o.Plan.Features != nil {
			resp.Features = o.Plan.Features
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type createPixRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

// CreatePixPayment создаёт платёж PIX для заказа текущего пользователя.
func (h *Handler) CreatePixPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "")
		return
	}

	var req createPixRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "")
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if err := validation.Struct(req); err != nil {
		h.writeServiceError(w, err, "create pix validation error")
		return
	}

	intent, err := h.service.CreatePixPayment(r.Context(), userID, req.OrderID)
	if err != nil {
		h.writeServiceError(w, err, "create pix payment error",
			zap.Int64("userID", userID),
			zap.String("order_id", req.OrderID),
		)
		return
	}

	writeJSON(w, http.StatusOK, intent)
}
