// Package service реализует бизнес-логику витрины подписок: каталог планов,
// создание заказов, оплату через PIX и сверку уведомлений платёжного шлюза.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/fulfillment"
	"github.com/mmeshcher/subscription-storefront/internal/gateway"
	"github.com/mmeshcher/subscription-storefront/internal/model"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	UpsertProviderUser(ctx context.Context, provider, providerAccountID, name, email string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetExternalAccountLink(ctx context.Context, userID int64, provider string) (*model.ExternalAccountLink, error)

	ListPlans(ctx context.Context, includeInactive bool) ([]model.Plan, error)
	GetPlan(ctx context.Context, id string) (*model.Plan, error)
	CreatePlan(ctx context.Context, p *model.Plan) error
	UpdatePlan(ctx context.Context, id string, upd model.PlanUpdate) (*model.Plan, error)
	DeactivatePlan(ctx context.Context, id string) (*model.Plan, error)

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetLatestCompletedOrder(ctx context.Context, userID int64, now time.Time) (*model.Order, error)
	GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*model.Order, error)
	SetOrderPaymentRef(ctx context.Context, id, paymentRef string) error
	TransitionOrder(ctx context.Context, id string, to model.OrderStatus, expiresAt *time.Time) (bool, error)
}

// PaymentGateway описывает операции платёжного шлюза.
type PaymentGateway interface {
	CreatePixIntent(ctx context.Context, in gateway.PixIntentRequest) (*gateway.PixIntent, error)
	FetchPaymentDetails(ctx context.Context, paymentID string) (*gateway.PaymentDetails, error)
}

// JobQueue принимает задания на исполнение оплаченных заказов.
type JobQueue interface {
	Enqueue(ctx context.Context, job fulfillment.Job) error
}

// Options содержит параметры сервиса, не связанные с зависимостями.
type Options struct {
	Currency        string
	NotificationURL string
}

// Service содержит бизнес-логику витрины подписок.
type Service struct {
	repo            Repository
	gateway         PaymentGateway
	queue           JobQueue
	logger          *zap.Logger
	currency        string
	notificationURL string

	now   func() time.Time
	newID func() string
}

// NewService создаёт сервис с указанными репозиторием, платёжным шлюзом и очередью исполнения.
func NewService(repo Repository, gw PaymentGateway, queue JobQueue, logger *zap.Logger, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "BRL"
	}
	return &Service{
		repo:            repo,
		gateway:         gw,
		queue:           queue,
		logger:          logger,
		currency:        opts.Currency,
		notificationURL: opts.NotificationURL,
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
