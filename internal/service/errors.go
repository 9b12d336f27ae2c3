package service

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/subscription-storefront/internal/model"
)

// Классы ошибок, по которым транспортный слой выбирает код ответа.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

var (
	ErrEmptyOrder        = fmt.Errorf("%w: order has no items", ErrValidation)
	ErrNoValidItems      = fmt.Errorf("%w: no valid order items", ErrValidation)
	ErrMissingPayerEmail = fmt.Errorf("%w: user has no e-mail address", ErrValidation)
	ErrEmptyPlanUpdate   = fmt.Errorf("%w: plan update has no fields", ErrValidation)

	ErrOrderNotFound = fmt.Errorf("%w: order not found", ErrNotFound)
	ErrPlanNotFound  = fmt.Errorf("%w: plan not found", ErrNotFound)
	ErrUserNotFound  = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrNoActivePlan  = fmt.Errorf("%w: no active plan", ErrNotFound)

	ErrPlanPriceLocked = fmt.Errorf("%w: plan prices are locked by existing orders", ErrConflict)
	ErrPlanNameTaken   = fmt.Errorf("%w: plan name already taken", ErrConflict)
	ErrPlanInactive    = fmt.Errorf("%w: plan is no longer active", ErrConflict)
)

// ErrMalformedNotification возвращается для уведомлений, которые невозможно обработать.
// Такие уведомления подтверждаются шлюзу, чтобы он не повторял их доставку.
var ErrMalformedNotification = errors.New("malformed payment notification")

// ErrPaymentNotVisible возвращается, если шлюз ещё не знает платёж, на который ссылается
// недавно созданный заказ в PENDING. Доставку уведомления следует повторить.
var ErrPaymentNotVisible = errors.New("payment not yet visible at gateway")

// OrderNotPendingError возвращается при попытке оплатить заказ, уже покинувший PENDING.
type OrderNotPendingError struct {
	OrderID string
	Status  model.OrderStatus
}

func (e *OrderNotPendingError) Error() string {
	return fmt.Sprintf("order %s is not pending (status: %s)", e.OrderID, e.Status)
}

func (e *OrderNotPendingError) Unwrap() error {
	return ErrConflict
}

// PaymentGatewayError описывает отказ платёжного шлюза при создании платежа.
type PaymentGatewayError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *PaymentGatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment gateway error (%d): %s", e.StatusCode, e.Message)
	}
	return "payment gateway error: " + e.Message
}

func (e *PaymentGatewayError) Unwrap() error {
	return e.Err
}
