// Package fulfillment выполняет действия после подтверждения оплаты:
// личное сообщение покупателю и выдачу роли на сервере Discord.
package fulfillment

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/subscription-storefront/internal/model"
)

// ErrPermanent помечает ошибку действия, которую не имеет смысла повторять.
var ErrPermanent = errors.New("permanent fulfillment error")

// Job — задание на исполнение оплаченного заказа.
type Job struct {
	OrderID       string          `json:"order_id"`
	UserID        int64           `json:"user_id"`
	UserName      string          `json:"user_name"`
	DestinationID string          `json:"destination_id"`
	PlanName      string          `json:"plan_name"`
	Tier          model.PriceTier `json:"tier"`
	RoleID        string          `json:"role_id,omitempty"`
}

// ConfirmationMessage возвращает текст личного сообщения о подтверждении оплаты.
func ConfirmationMessage(job Job) string {
	name := job.UserName
	if name == "" {
		name = "user"
	}
	return fmt.Sprintf("Hello %s! Your payment for the plan \"%s (%s)\" has been confirmed. Thank you!",
		name, job.PlanName, job.Tier.Label())
}
