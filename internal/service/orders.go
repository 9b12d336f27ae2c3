package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/metrics"
	"github.com/mmeshcher/subscription-storefront/internal/model"
	"github.com/mmeshcher/subscription-storefront/internal/repository"
)

// CreateOrders создаёт по одному заказу в статусе PENDING на каждую допустимую строку корзины.
// Цена всегда берётся из плана; цена клиента только журналируется при расхождении.
// Отклонённые строки возвращаются отдельно и не прерывают обработку остальных.
func (s *Service) CreateOrders(ctx context.Context, userID int64, items []model.OrderItem) ([]model.Order, []model.ItemRejection, error) {
	if len(items) == 0 {
		return nil, nil, ErrEmptyOrder
	}

	var (
		created  []model.Order
		rejected []model.ItemRejection
	)

	for i, item := range items {
		plan, reason, err := s.resolveItemPlan(ctx, item)
		if err != nil {
			return nil, nil, err
		}
		if reason != "" {
			rejected = append(rejected, model.ItemRejection{Index: i, PlanID: item.PlanID, Reason: reason})
			continue
		}

		unitPrice, _ := plan.PriceFor(item.Tier)
		if !item.ClaimedPrice.IsZero() && !item.ClaimedPrice.Equal(unitPrice) {
			s.logger.Warn("client price differs from plan price",
				zap.Int64("user_id", userID),
				zap.String("plan_id", plan.ID),
				zap.String("tier", string(item.Tier)),
				zap.String("claimed_price", item.ClaimedPrice.String()),
				zap.String("plan_price", unitPrice.StringFixed(2)),
			)
		}

		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}

		createdAt := s.now()
		order := model.Order{
			ID:          s.newID(),
			UserID:      userID,
			PlanID:      plan.ID,
			Tier:        item.Tier,
			Status:      model.OrderStatusPending,
			Quantity:    quantity,
			TotalAmount: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
			Currency:    s.currency,
			CreatedAt:   createdAt,
			Plan:        plan,
		}
		if expiresAt, ok := item.Tier.ExpiresFrom(createdAt); ok {
			order.ExpiresAt = &expiresAt
		}

		if err := s.repo.CreateOrder(ctx, &order); err != nil {
			return nil, nil, err
		}

		metrics.OrdersCreated.Inc()
		s.logger.Info("order created",
			zap.String("order_id", order.ID),
			zap.Int64("user_id", userID),
			zap.String("plan_id", plan.ID),
			zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		)
		created = append(created, order)
	}

	for _, r := range rejected {
		metrics.OrderItemsRejected.WithLabelValues(r.Reason).Inc()
	}

	if len(created) == 0 {
		return nil, rejected, ErrNoValidItems
	}

	return created, rejected, nil
}

func (s *Service) resolveItemPlan(ctx context.Context, item model.OrderItem) (*model.Plan, string, error) {
	if !isUUID(item.PlanID) {
		return nil, model.RejectPlanNotFound, nil
	}

	plan, err := s.repo.GetPlan(ctx, item.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.RejectPlanNotFound, nil
		}
		return nil, "", err
	}

	if !plan.Active {
		return nil, model.RejectPlanInactive, nil
	}

	if price, ok := plan.PriceFor(item.Tier); !ok || !price.IsPositive() {
		return nil, model.RejectUnsupportedTier, nil
	}

	return plan, "", nil
}

// GetOrdersByUser возвращает заказы пользователя, начиная с самых новых.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// GetActivePlan возвращает самый свежий оплаченный и не истёкший заказ пользователя.
func (s *Service) GetActivePlan(ctx context.Context, userID int64) (*model.Order, error) {
	order, err := s.repo.GetLatestCompletedOrder(ctx, userID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActivePlan
		}
		return nil, err
	}

	if order.Plan == nil || !order.Plan.Active {
		return nil, ErrPlanInactive
	}

	return order, nil
}
