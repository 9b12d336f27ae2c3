package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/fulfillment"
	"github.com/mmeshcher/subscription-storefront/internal/gateway"
	"github.com/mmeshcher/subscription-storefront/internal/metrics"
	"github.com/mmeshcher/subscription-storefront/internal/model"
	"github.com/mmeshcher/subscription-storefront/internal/repository"
)

// Outcome описывает результат сверки уведомления о платеже.
type Outcome string

const (
	OutcomeIgnored             Outcome = "ignored"
	OutcomeUnknownPayment      Outcome = "unknown_payment"
	OutcomeUnknownOrder        Outcome = "unknown_order"
	OutcomeAlreadyReconciled   Outcome = "already_reconciled"
	OutcomeAwaitingFinalStatus Outcome = "awaiting_final_status"
	OutcomeTransitioned        Outcome = "transitioned"

	outcomeMalformed         Outcome = "malformed"
	outcomePaymentNotVisible Outcome = "payment_not_visible"
	outcomeError             Outcome = "error"
)

// paymentVisibilityWindow ограничивает время, в течение которого неизвестный шлюзу платёж
// недавнего заказа считается ещё не созданным, а не отсутствующим.
const paymentVisibilityWindow = 15 * time.Minute

// ReconcileResult содержит результат обработки уведомления.
type ReconcileResult struct {
	Outcome       Outcome
	PaymentID     string
	PaymentStatus string
	OrderID       string
	Status        model.OrderStatus
}

// MapPaymentStatus переводит статус платежа шлюза в итоговый статус заказа.
// Для промежуточных и неизвестных статусов возвращает false.
func MapPaymentStatus(status string) (model.OrderStatus, bool) {
	switch status {
	case gateway.PaymentStatusApproved:
		return model.OrderStatusCompleted, true
	case gateway.PaymentStatusCancelled:
		return model.OrderStatusCancelled, true
	case gateway.PaymentStatusRejected:
		return model.OrderStatusFailed, true
	case gateway.PaymentStatusRefunded, gateway.PaymentStatusChargedBack:
		return model.OrderStatusRefunded, true
	default:
		return "", false
	}
}

// HandlePaymentNotification сверяет заказ с авторитетным состоянием платежа в шлюзе.
// Повторная доставка того же уведомления не меняет результат: переход из PENDING
// выполняется одной операцией сравнения и записи, и задание на исполнение
// ставится в очередь только выигравшим переходом.
// Ошибка возвращается только для сбоев, после которых шлюзу стоит повторить доставку.
func (s *Service) HandlePaymentNotification(ctx context.Context, n gateway.Notification) (*ReconcileResult, error) {
	res, err := s.reconcile(ctx, n)

	outcome := outcomeError
	switch {
	case err == nil:
		outcome = res.Outcome
	case errors.Is(err, ErrMalformedNotification):
		outcome = outcomeMalformed
	case errors.Is(err, ErrPaymentNotVisible):
		outcome = outcomePaymentNotVisible
	}
	metrics.WebhookNotifications.WithLabelValues(string(outcome)).Inc()

	return res, err
}

func (s *Service) reconcile(ctx context.Context, n gateway.Notification) (*ReconcileResult, error) {
	if !n.IsPaymentUpdate() {
		s.logger.Info("ignoring notification",
			zap.String("type", n.Type),
			zap.String("action", n.Action),
		)
		return &ReconcileResult{Outcome: OutcomeIgnored}, nil
	}

	paymentID := n.PaymentID()
	if !gateway.ValidPaymentID(paymentID) {
		s.logger.Warn("notification has invalid payment id", zap.String("payment_id", paymentID))
		return nil, ErrMalformedNotification
	}

	res := &ReconcileResult{PaymentID: paymentID}
	log := s.logger.With(zap.String("payment_id", paymentID))

	details, err := s.gateway.FetchPaymentDetails(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gateway.ErrPaymentNotFound) {
			return s.unknownPayment(ctx, log, res)
		}
		return nil, err
	}
	res.PaymentStatus = details.Status

	if details.ExternalReference == "" {
		log.Warn("payment has no order reference", zap.String("status", details.Status))
		return nil, ErrMalformedNotification
	}
	res.OrderID = details.ExternalReference
	log = log.With(zap.String("order_id", res.OrderID))

	order, err := s.findOrder(ctx, res.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		log.Warn("payment references unknown order")
		res.Outcome = OutcomeUnknownOrder
		return res, nil
	}
	res.Status = order.Status

	if order.Status != model.OrderStatusPending {
		log.Info("order already reconciled",
			zap.String("status", string(order.Status)),
			zap.String("payment_status", details.Status),
		)
		res.Outcome = OutcomeAlreadyReconciled
		return res, nil
	}

	target, final := MapPaymentStatus(details.Status)
	if !final {
		log.Info("awaiting final payment status", zap.String("payment_status", details.Status))
		res.Outcome = OutcomeAwaitingFinalStatus
		return res, nil
	}

	if target != model.OrderStatusCompleted {
		return s.transition(ctx, log, res, order, target, nil, nil)
	}

	job, err := s.fulfillmentJob(ctx, order)
	if err != nil {
		return nil, err
	}

	expiresAt := order.ExpiresAt
	if expiresAt == nil {
		if t, ok := order.Tier.ExpiresFrom(s.now()); ok {
			expiresAt = &t
		}
	}

	return s.transition(ctx, log, res, order, target, expiresAt, job)
}

// unknownPayment подтверждает уведомление о платеже, которого нет в шлюзе, если только
// на него не ссылается заказ в PENDING, созданный в пределах paymentVisibilityWindow.
func (s *Service) unknownPayment(ctx context.Context, log *zap.Logger, res *ReconcileResult) (*ReconcileResult, error) {
	order, err := s.repo.GetOrderByPaymentRef(ctx, res.PaymentID)
	switch {
	case err == nil:
		if order.Status == model.OrderStatusPending && s.now().Sub(order.CreatedAt) < paymentVisibilityWindow {
			log.Warn("payment not yet visible at gateway", zap.String("order_id", order.ID))
			return nil, ErrPaymentNotVisible
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	log.Warn("payment unknown to gateway")
	res.Outcome = OutcomeUnknownPayment
	return res, nil
}

func (s *Service) transition(
	ctx context.Context,
	log *zap.Logger,
	res *ReconcileResult,
	order *model.Order,
	target model.OrderStatus,
	expiresAt *time.Time,
	job *fulfillment.Job,
) (*ReconcileResult, error) {
	applied, err := s.repo.TransitionOrder(ctx, order.ID, target, expiresAt)
	if err != nil {
		return nil, err
	}

	if !applied {
		log.Info("order reconciled concurrently")
		res.Outcome = OutcomeAlreadyReconciled
		return res, nil
	}

	metrics.OrderTransitions.WithLabelValues(string(target)).Inc()
	log.Info("order transitioned",
		zap.String("from", string(model.OrderStatusPending)),
		zap.String("to", string(target)),
	)

	res.Outcome = OutcomeTransitioned
	res.Status = target

	if job != nil {
		s.enqueue(ctx, log, *job)
	}

	return res, nil
}

func (s *Service) findOrder(ctx context.Context, id string) (*model.Order, error) {
	if !isUUID(id) {
		return nil, nil
	}

	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

// fulfillmentJob собирает задание до перехода, чтобы сбой чтения позволил шлюзу повторить доставку.
func (s *Service) fulfillmentJob(ctx context.Context, order *model.Order) (*fulfillment.Job, error) {
	job := &fulfillment.Job{
		OrderID: order.ID,
		UserID:  order.UserID,
		Tier:    order.Tier,
	}
	if order.Plan != nil {
		job.PlanName = order.Plan.Name
		job.RoleID = order.Plan.RoleID()
	}

	user, err := s.repo.GetUser(ctx, order.UserID)
	switch {
	case err == nil:
		job.UserName = user.Name
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	link, err := s.repo.GetExternalAccountLink(ctx, order.UserID, model.ProviderDiscord)
	switch {
	case err == nil:
		job.DestinationID = link.ProviderAccountID
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	return job, nil
}

func (s *Service) enqueue(ctx context.Context, log *zap.Logger, job fulfillment.Job) {
	if s.queue == nil {
		log.Warn("fulfillment queue not configured")
		metrics.FulfillmentEnqueueFailures.Inc()
		return
	}

	// Переход уже зафиксирован: отмена запроса не должна терять задание.
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		log.Error("enqueue fulfillment job", zap.Error(err))
		metrics.FulfillmentEnqueueFailures.Inc()
		return
	}
	log.Info("fulfillment job enqueued")
}
