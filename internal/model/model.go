// Package model содержит доменные сущности витрины подписок.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UserRole описывает уровень привилегий пользователя.
type UserRole string

const (
	UserRoleUser  UserRole = "USER"
	UserRoleAdmin UserRole = "ADMIN"
)

// ProviderDiscord идентифицирует провайдера учётных записей Discord.
const ProviderDiscord = "discord"

// User представляет пользователя, вошедшего через внешнего провайдера.
type User struct {
	ID        int64
	Name      string
	Email     string
	Role      UserRole
	CreatedAt time.Time
}

// IsAdmin сообщает, обладает ли пользователь правами администратора.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == UserRoleAdmin
}

// ExternalAccountLink связывает пользователя с его учётной записью у внешнего провайдера.
type ExternalAccountLink struct {
	UserID            int64
	Provider          string
	ProviderAccountID string
}

// PriceTier описывает период оплаты плана.
type PriceTier string

const (
	PriceTierMonthly  PriceTier = "MONTHLY"
	PriceTierAnnually PriceTier = "ANNUALLY"
)

// ParsePriceTier разбирает период оплаты из клиентского представления (monthly, annually).
func ParsePriceTier(s string) (PriceTier, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(PriceTierMonthly):
		return PriceTierMonthly, true
	case string(PriceTierAnnually):
		return PriceTierAnnually, true
	default:
		return "", false
	}
}

// ExpiresFrom вычисляет момент окончания доступа, отсчитывая от start.
// Для периода без политики истечения возвращает false.
func (t PriceTier) ExpiresFrom(start time.Time) (time.Time, bool) {
	switch t {
	case PriceTierMonthly:
		return start.AddDate(0, 0, 30), true
	case PriceTierAnnually:
		return start.AddDate(1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

// Label возвращает человекочитаемое название периода.
func (t PriceTier) Label() string {
	switch t {
	case PriceTierMonthly:
		return "Monthly"
	case PriceTierAnnually:
		return "Annual"
	default:
		return string(t)
	}
}

// Plan описывает тарифный план, доступный для покупки.
type Plan struct {
	ID               string
	Name             string
	Description      string
	PriceMonthly     decimal.Decimal
	PriceAnnually    decimal.Decimal
	Features         []string
	Active           bool
	ExternalRoleID   *string
	PriceRefMonthly  *string
	PriceRefAnnually *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PriceFor возвращает цену плана для указанного периода.
func (p *Plan) PriceFor(tier PriceTier) (decimal.Decimal, bool) {
	switch tier {
	case PriceTierMonthly:
		return p.PriceMonthly, true
	case PriceTierAnnually:
		return p.PriceAnnually, true
	default:
		return decimal.Zero, false
	}
}

// RoleID возвращает роль, выдаваемую при исполнении заказа, или пустую строку.
func (p *Plan) RoleID() string {
	if p == nil || p.ExternalRoleID == nil {
		return ""
	}
	return strings.TrimSpace(*p.ExternalRoleID)
}

// PlanUpdate содержит изменяемые поля плана; nil означает «не менять».
type PlanUpdate struct {
	Name             *string
	Description      *string
	PriceMonthly     *decimal.Decimal
	PriceAnnually    *decimal.Decimal
	Features         []string
	Active           *bool
	ExternalRoleID   *string
	PriceRefMonthly  *string
	PriceRefAnnually *string
}

// ChangesPrice сообщает, затрагивает ли обновление цены плана p.
func (u PlanUpdate) ChangesPrice(p *Plan) bool {
	if u.PriceMonthly != nil && !u.PriceMonthly.Equal(p.PriceMonthly) {
		return true
	}
	if u.PriceAnnually != nil && !u.PriceAnnually.Equal(p.PriceAnnually) {
		return true
	}
	return false
}

// IsEmpty сообщает, что обновление не содержит ни одного поля.
func (u PlanUpdate) IsEmpty() bool {
	return u.Name == nil && u.Description == nil && u.PriceMonthly == nil && u.PriceAnnually == nil &&
		u.Features == nil && u.Active == nil && u.ExternalRoleID == nil &&
		u.PriceRefMonthly == nil && u.PriceRefAnnually == nil
}

// OrderStatus описывает состояние заказа в жизненном цикле оплаты.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) IsTerminal() bool {
	return s != OrderStatusPending
}

// Order описывает одну попытку покупки плана на выбранный период.
type Order struct {
	ID                 string
	UserID             int64
	PlanID             string
	Tier               PriceTier
	Status             OrderStatus
	Quantity           int
	TotalAmount        decimal.Decimal
	Currency           string
	ExternalPaymentRef *string
	CreatedAt          time.Time
	ExpiresAt          *time.Time
	Plan               *Plan
}

// ShortID возвращает первые восемь символов идентификатора для отображения.
func (o *Order) ShortID() string {
	if len(o.ID) <= 8 {
		return o.ID
	}
	return o.ID[:8]
}

// OrderItem описывает строку корзины, из которой создаётся заказ.
type OrderItem struct {
	PlanID       string
	Tier         PriceTier
	ClaimedPrice decimal.Decimal
	Quantity     int
}

// Причины отклонения строки корзины.
const (
	RejectPlanNotFound    = "plan_not_found"
	RejectPlanInactive    = "plan_inactive"
	RejectUnsupportedTier = "unsupported_tier"
)

// ItemRejection описывает строку корзины, по которой заказ не был создан.
type ItemRejection struct {
	Index  int
	PlanID string
	Reason string
}
