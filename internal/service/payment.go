package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/gateway"
	"github.com/mmeshcher/subscription-storefront/internal/model"
	"github.com/mmeshcher/subscription-storefront/internal/repository"
)

// CreatePixPayment создаёт платёж PIX для заказа пользователя, находящегося в PENDING.
// Идентификатор заказа передаётся шлюзу как ссылка для последующей сверки.
func (s *Service) CreatePixPayment(ctx context.Context, userID int64, orderID string) (*gateway.PixIntent, error) {
	order, err := s.loadOwnedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status != model.OrderStatusPending {
		return nil, &OrderNotPendingError{OrderID: order.ID, Status: order.Status}
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(user.Email) == "" {
		return nil, ErrMissingPayerEmail
	}

	planName := order.PlanID
	if order.Plan != nil {
		planName = order.Plan.Name
	}

	intent, err := s.gateway.CreatePixIntent(ctx, gateway.PixIntentRequest{
		Amount:           order.TotalAmount,
		Description:      fmt.Sprintf("%s - Order #%s", planName, order.ShortID()),
		PayerEmail:       user.Email,
		CorrelationToken: order.ID,
		NotificationURL:  s.notificationURL,
		IdempotencyKey:   s.newID(),
	})
	if err != nil {
		s.logger.Error("create pix payment",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return nil, toGatewayError(err)
	}

	if err := s.repo.SetOrderPaymentRef(ctx, order.ID, intent.PaymentID); err != nil {
		if errors.Is(err, repository.ErrOrderNotPending) {
			return nil, s.notPendingError(ctx, order.ID)
		}
		return nil, err
	}

	s.logger.Info("pix payment created",
		zap.String("order_id", order.ID),
		zap.String("payment_id", intent.PaymentID),
	)
	return intent, nil
}

func (s *Service) loadOwnedOrder(ctx context.Context, userID int64, orderID string) (*model.Order, error) {
	if !isUUID(orderID) {
		return nil, ErrOrderNotFound
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	// Чужой заказ неотличим от несуществующего.
	if order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) notPendingError(ctx context.Context, orderID string) error {
	e := &OrderNotPendingError{OrderID: orderID}
	if order, err := s.repo.GetOrder(ctx, orderID); err == nil {
		e.Status = order.Status
	}
	return e
}

func toGatewayError(err error) error {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return &PaymentGatewayError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	return &PaymentGatewayError{Message: err.Error(), Err: err}
}
