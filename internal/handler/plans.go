package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/middleware"
	"github.com/mmeshcher/subscription-storefront/internal/model"
	"github.com/mmeshcher/subscription-storefront/internal/validation"
)

type planResponse struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	PriceMonthly     string   `json:"priceMonthly"`
	PriceAnnually    string   `json:"priceAnnually"`
	Features         []string `json:"features"`
	Active           bool     `json:"active"`
	DiscordRoleID    *string  `json:"discordRoleId,omitempty"`
	PriceRefMonthly  *string  `json:"priceRefMonthly,omitempty"`
	PriceRefAnnually *string  `json:"priceRefAnnually,omitempty"`
	CreatedAt        string   `json:"createdAt"`
	UpdatedAt        string   `json:"updatedAt"`
}

func newPlanResponse(p *model.Plan) planResponse {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return planResponse{
		ID:               p.ID,
		Name:             p.Name,
		Description:      p.Description,
		PriceMonthly:     p.PriceMonthly.StringFixed(2),
		PriceAnnually:    p.PriceAnnually.StringFixed(2),
		Features:         features,
		Active:           p.Active,
		DiscordRoleID:    p.ExternalRoleID,
		PriceRefMonthly:  p.PriceRefMonthly,
		PriceRefAnnually: p.PriceRefAnnually,
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        p.UpdatedAt.Format(time.RFC3339),
	}
}

// ListPlans возвращает каталог планов. Администраторы видят и снятые с продажи.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	privileged := false
	if userID, ok := middleware.GetUserIDFromContext(r.Context()); ok {
		admin, err := h.service.IsAdmin(r.Context(), userID)
		if err != nil {
			h.logger.Warn("check admin role error", zap.Error(err), zap.Int64("userID", userID))
		}
		privileged = admin
	}

	plans, err := h.service.ListPlans(r.Context(), privileged)
	if err != nil {
		h.writeServiceError(w, err, "list plans error")
		return
	}

	resp := make([]planResponse, 0, len(plans))
	for i := range plans {
		resp = append(resp, newPlanResponse(&plans[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPlan возвращает план по идентификатору.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.service.GetPlan(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get plan error", zap.String("plan_id", id))
		return
	}
	writeJSON(w, http.StatusOK, newPlanResponse(p))
}

type createPlanRequest struct {
	Name             string          `json:"name" validate:"required,max=100"`
	Description      string          `json:"description" validate:"max=2000"`
	PriceMonthly     decimal.Decimal `json:"priceMonthly" validate:"money"`
	PriceAnnually    decimal.Decimal `json:"priceAnnually" validate:"money"`
	Features         []string        `json:"features" validate:"dive,required,max=200"`
	Active           *bool           `json:"active"`
	DiscordRoleID    *string         `json:"discordRoleId" validate:"omitempty,max=32"`
	PriceRefMonthly  *string         `json:"priceRefMonthly"`
	PriceRefAnnually *string         `json:"priceRefAnnually"`
}

// CreatePlan добавляет план в каталог.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "")
		return
	}
	if err := validation.Struct(req); err != nil {
		h.writeServiceError(w, err, "create plan validation error")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	p := &model.Plan{
		Name:             req.Name,
		Description:      req.Description,
		PriceMonthly:     req.PriceMonthly,
		PriceAnnually:    req.PriceAnnually,
		Features:         req.Features,
		Active:           active,
		ExternalRoleID:   emptyToNil(req.DiscordRoleID),
		PriceRefMonthly:  emptyToNil(req.PriceRefMonthly),
		PriceRefAnnually: emptyToNil(req.PriceRefAnnually),
	}

	if err := h.service.CreatePlan(r.Context(), p); err != nil {
		h.writeServiceError(w, err, "create plan error", zap.String("name", req.Name))
		return
	}

	writeJSON(w, http.StatusCreated, newPlanResponse(p))
}

type updatePlanRequest struct {
	Name             *string          `json:"name" validate:"omitempty,max=100"`
	Description      *string          `json:"description" validate:"omitempty,max=2000"`
	PriceMonthly     *decimal.Decimal `json:"priceMonthly"`
	PriceAnnually    *decimal.Decimal `json:"priceAnnually"`
	Features         []string         `json:"features" validate:"dive,required,max=200"`
	Active           *bool            `json:"active"`
	DiscordRoleID    *string          `json:"discordRoleId" validate:"omitempty,max=32"`
	PriceRefMonthly  *string          `json:"priceRefMonthly"`
	PriceRefAnnually *string          `json:"priceRefAnnually"`
}

// UpdatePlan частично обновляет план. Цены нельзя менять, пока на план есть заказы.
func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updatePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "")
		return
	}
	if err := validation.Struct(req); err != nil {
		h.writeServiceError(w, err, "update plan validation error")
		return
	}

	p, err := h.service.UpdatePlan(r.Context(), id, model.PlanUpdate{
		Name:             req.Name,
		Description:      req.Description,
		PriceMonthly:     req.PriceMonthly,
		PriceAnnually:    req.PriceAnnually,
		Features:         req.Features,
		Active:           req.Active,
		ExternalRoleID:   req.DiscordRoleID,
		PriceRefMonthly:  req.PriceRefMonthly,
		PriceRefAnnually: req.PriceRefAnnually,
	})
	if err != nil {
		h.writeServiceError(w, err, "update plan error", zap.String("plan_id", id))
		return
	}

	writeJSON(w, http.StatusOK, newPlanResponse(p))
}

// DeletePlan снимает план с продажи. Заказы продолжают ссылаться на него.
func (h *Handler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.service.DeactivatePlan(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "deactivate plan error", zap.String("plan_id", id))
		return
	}

	writeJSON(w, http.StatusOK, newPlanResponse(p))
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
