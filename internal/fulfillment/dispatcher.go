package fulfillment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/subscription-storefront/internal/metrics"
)

// Действия исполнения заказа.
const (
	ActionDirectMessage = "direct_message"
	ActionGrantRole     = "grant_role"
)

// Результаты действий для метрик.
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultSkipped = "skipped"
)

// Bot выполняет действия в чате от имени витрины.
type Bot interface {
	SendDirectMessage(ctx context.Context, userID, text string) error
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
}

// Dispatcher исполняет оплаченные заказы. Ошибки действий только журналируются
// и никогда не влияют на состояние заказа.
type Dispatcher struct {
	bot        Bot
	guildID    string
	logger     *zap.Logger
	maxRetries uint64
	backoff    time.Duration
	idleDelay  time.Duration
}

// NewDispatcher создаёт диспетчер. При bot == nil все действия пропускаются.
func NewDispatcher(bot Bot, guildID string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		bot:        bot,
		guildID:    guildID,
		logger:     logger,
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
		idleDelay:  time.Second,
	}
}

// Fulfill выполняет личное сообщение и выдачу роли независимо друг от друга.
func (d *Dispatcher) Fulfill(ctx context.Context, job Job) {
	log := d.logger.With(
		zap.String("order_id", job.OrderID),
		zap.Int64("user_id", job.UserID),
	)

	if job.DestinationID == "" {
		log.Warn("no chat account linked, skipping fulfillment")
		metrics.FulfillmentActions.WithLabelValues(ActionDirectMessage, resultSkipped).Inc()
		return
	}

	if d.bot == nil {
		log.Warn("chat bot not configured, skipping fulfillment")
		metrics.FulfillmentActions.WithLabelValues(ActionDirectMessage, resultSkipped).Inc()
		return
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.perform(ctx, log, ActionDirectMessage, func(ctx context.Context) error {
			return d.bot.SendDirectMessage(ctx, job.DestinationID, ConfirmationMessage(job))
		})
	}()

	switch {
	case job.RoleID == "":
		log.Info("plan has no role configured, skipping role grant", zap.String("plan", job.PlanName))
		metrics.FulfillmentActions.WithLabelValues(ActionGrantRole, resultSkipped).Inc()
	case d.guildID == "":
		log.Warn("guild not configured, skipping role grant", zap.String("role_id", job.RoleID))
		metrics.FulfillmentActions.WithLabelValues(ActionGrantRole, resultSkipped).Inc()
	default:
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.perform(ctx, log.With(zap.String("role_id", job.RoleID)), ActionGrantRole, func(ctx context.Context) error {
				return d.bot.GrantRole(ctx, d.guildID, job.DestinationID, job.RoleID)
			})
		}()
	}

	wg.Wait()
}

func (d *Dispatcher) perform(ctx context.Context, log *zap.Logger, action string, fn func(ctx context.Context) error) {
	b := retry.WithMaxRetries(d.maxRetries, retry.NewExponential(d.backoff))

	attempts := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		if err := fn(ctx); err != nil {
			if errors.Is(err, ErrPermanent) {
				return err
			}
			log.Debug("fulfillment action failed, retrying", zap.String("action", action), zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		log.Error("fulfillment action failed",
			zap.String("action", action),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		metrics.FulfillmentActions.WithLabelValues(action, resultFailure).Inc()
		return
	}

	log.Info("fulfillment action completed", zap.String("action", action), zap.Int("attempts", attempts))
	metrics.FulfillmentActions.WithLabelValues(action, resultSuccess).Inc()
}

// Run запускает workers обработчиков очереди и блокируется до отмены контекста.
func (d *Dispatcher) Run(ctx context.Context, q Queue, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			d.work(ctx, q)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context, q Queue) {
	for {
		job, err := q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrQueueEmpty) {
				continue
			}

			d.logger.Error("dequeue fulfillment job", zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(d.idleDelay):
			}
			continue
		}

		d.Fulfill(ctx, job)
	}
}
