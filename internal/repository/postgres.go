// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/subscription-storefront/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound возвращается, если запись не найдена.
var (
	ErrNotFound = errors.New("record not found")
	// ErrPlanNameTaken возвращается при попытке занять имя существующего плана.
	ErrPlanNameTaken = errors.New("plan name already taken")
	// ErrPlanPriceLocked возвращается при изменении цены плана, на который ссылаются заказы.
	ErrPlanPriceLocked = errors.New("plan price is referenced by existing orders")
	// ErrOrderNotPending возвращается, если заказ уже покинул статус PENDING.
	ErrOrderNotPending = errors.New("order is not pending")
)

var defaultRetryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool        *pgxpool.Pool
	retryDelays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, retryDelays: defaultRetryDelays}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(r.retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.retryDelays) {
			break
		}

		timer := time.NewTimer(r.retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `u.id, u.name, u.email, u.role, u.created_at`

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = model.UserRole(role)
	return &u, nil
}

// errAccountLinked означает, что учётную запись успел привязать параллельный вход.
var errAccountLinked = errors.New("account linked concurrently")

// UpsertProviderUser находит пользователя по учётной записи провайдера или создаёт его вместе со связью.
func (r *PostgresRepository) UpsertProviderUser(ctx context.Context, provider, providerAccountID, name, email string) (*model.User, error) {
	u, err := r.upsertProviderUser(ctx, provider, providerAccountID, name, email)
	if errors.Is(err, errAccountLinked) {
		return r.upsertProviderUser(ctx, provider, providerAccountID, name, email)
	}
	return u, err
}

func (r *PostgresRepository) upsertProviderUser(ctx context.Context, provider, providerAccountID, name, email string) (*model.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	u, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM accounts a JOIN users u ON u.id = a.user_id
		 WHERE a.provider = $1 AND a.provider_account_id = $2`,
		provider, providerAccountID,
	))
	switch {
	case err == nil:
		u, err = scanUser(tx.QueryRow(ctx,
			`UPDATE users u
			 SET name = COALESCE(NULLIF($2, ''), u.name), email = COALESCE(NULLIF($3, ''), u.email)
			 WHERE u.id = $1
			 RETURNING `+userColumns,
			u.ID, name, email,
		))
		if err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		u, err = r.linkNewAccount(ctx, tx, provider, providerAccountID, name, email)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("select account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return u, nil
}

// linkNewAccount создаёт нового пользователя для ещё не известной учётной записи провайдера.
// Совпадение e-mail с существующим пользователем не приводит к связыванию.
func (r *PostgresRepository) linkNewAccount(ctx context.Context, tx pgx.Tx, provider, providerAccountID, name, email string) (*model.User, error) {
	u, err := scanUser(tx.QueryRow(ctx,
		`INSERT INTO users AS u (name, email, role) VALUES ($1, $2, $3) RETURNING `+userColumns,
		name, email, string(model.UserRoleUser),
	))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO accounts (user_id, provider, provider_account_id) VALUES ($1, $2, $3)
		 ON CONFLICT (provider, provider_account_id) DO NOTHING`,
		u.ID, provider, providerAccountID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, errAccountLinked
	}

	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetExternalAccountLink возвращает связь пользователя с учётной записью провайдера.
func (r *PostgresRepository) GetExternalAccountLink(ctx context.Context, userID int64, provider string) (*model.ExternalAccountLink, error) {
	link := model.ExternalAccountLink{UserID: userID, Provider: provider}
	err := r.pool.QueryRow(ctx,
		`SELECT provider_account_id FROM accounts
		 WHERE user_id = $1 AND provider = $2
		 ORDER BY id DESC LIMIT 1`,
		userID, provider,
	).Scan(&link.ProviderAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account link: %w", err)
	}
	return &link, nil
}

const planColumns = `p.id::text, p.name, p.description, p.price_monthly, p.price_annually, p.features,
	p.active, p.external_role_id, p.price_ref_monthly, p.price_ref_annually, p.created_at, p.updated_at`

func planDest(p *model.Plan) []any {
	return []any{
		&p.ID, &p.Name, &p.Description, &p.PriceMonthly, &p.PriceAnnually, &p.Features,
		&p.Active, &p.ExternalRoleID, &p.PriceRefMonthly, &p.PriceRefAnnually, &p.CreatedAt, &p.UpdatedAt,
	}
}

func scanPlan(row rowScanner) (*model.Plan, error) {
	var p model.Plan
	if err := row.Scan(planDest(&p)...); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlans возвращает планы, упорядоченные по имени. Неактивные планы включаются по запросу.
func (r *PostgresRepository) ListPlans(ctx context.Context, includeInactive bool) ([]model.Plan, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+planColumns+`
		 FROM plans p
		 WHERE p.active OR $1
		 ORDER BY p.name`,
		includeInactive,
	)
	if err != nil {
		return nil, fmt.Errorf("select plans: %w", err)
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return plans, nil
}

// GetPlan возвращает план по идентификатору.
func (r *PostgresRepository) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	p, err := scanPlan(r.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans p WHERE p.id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

// CreatePlan сохраняет новый план.
func (r *PostgresRepository) CreatePlan(ctx context.Context, p *model.Plan) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO plans (id, name, description, price_monthly, price_annually, features, active,
		                    external_role_id, price_ref_monthly, price_ref_annually)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.PriceMonthly, p.PriceAnnually, featuresOrEmpty(p.Features), p.Active,
		p.ExternalRoleID, p.PriceRefMonthly, p.PriceRefAnnually,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrPlanNameTaken, p.Name)
		}
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// UpdatePlan применяет частичное обновление плана. Цены плана, на который ссылаются
// заказы, менять нельзя.
func (r *PostgresRepository) UpdatePlan(ctx context.Context, id string, upd model.PlanUpdate) (*model.Plan, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := scanPlan(tx.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans p WHERE p.id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock plan: %w", err)
	}

	if upd.ChangesPrice(p) {
		var referenced bool
		err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE plan_id = $1)`, id).Scan(&referenced)
		if err != nil {
			return nil, fmt.Errorf("check plan references: %w", err)
		}
		if referenced {
			return nil, ErrPlanPriceLocked
		}
	}

	applyPlanUpdate(p, upd)

	err = tx.QueryRow(ctx,
		`UPDATE plans SET name = $2, description = $3, price_monthly = $4, price_annually = $5,
		                  features = $6, active = $7, external_role_id = $8,
		                  price_ref_monthly = $9, price_ref_annually = $10, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		id, p.Name, p.Description, p.PriceMonthly, p.PriceAnnually, featuresOrEmpty(p.Features), p.Active,
		p.ExternalRoleID, p.PriceRefMonthly, p.PriceRefAnnually,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNameTaken, p.Name)
		}
		return nil, fmt.Errorf("update plan: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return p, nil
}

func applyPlanUpdate(p *model.Plan, upd model.PlanUpdate) {
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.PriceMonthly != nil {
		p.PriceMonthly = *upd.PriceMonthly
	}
	if upd.PriceAnnually != nil {
		p.PriceAnnually = *upd.PriceAnnually
	}
	if upd.Features != nil {
		p.Features = upd.Features
	}
	if upd.Active != nil {
		p.Active = *upd.Active
	}
	// Пустая строка очищает необязательные ссылки.
	if upd.ExternalRoleID != nil {
		p.ExternalRoleID = nilIfEmpty(*upd.ExternalRoleID)
	}
	if upd.PriceRefMonthly != nil {
		p.PriceRefMonthly = nilIfEmpty(*upd.PriceRefMonthly)
	}
	if upd.PriceRefAnnually != nil {
		p.PriceRefAnnually = nilIfEmpty(*upd.PriceRefAnnually)
	}
}

func nilIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func featuresOrEmpty(f []string) []string {
	if f == nil {
		return []string{}
	}
	return f
}

// DeactivatePlan снимает план с продажи, не удаляя его.
func (r *PostgresRepository) DeactivatePlan(ctx context.Context, id string) (*model.Plan, error) {
	p, err := scanPlan(r.pool.QueryRow(ctx,
		`UPDATE plans p SET active = FALSE, updated_at = NOW()
		 WHERE p.id = $1
		 RETURNING `+planColumns,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("deactivate plan: %w", err)
	}
	return p, nil
}

const orderColumns = `o.id::text, o.user_id, o.plan_id::text, o.tier, o.status, o.quantity, o.total_amount,
	o.currency, o.external_payment_ref, o.created_at, o.expires_at`

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o      model.Order
		p      model.Plan
		tier   string
		status string
	)
	dest := []any{
		&o.ID, &o.UserID, &o.PlanID, &tier, &status, &o.Quantity, &o.TotalAmount,
		&o.Currency, &o.ExternalPaymentRef, &o.CreatedAt, &o.ExpiresAt,
	}
	dest = append(dest, planDest(&p)...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	o.Tier = model.PriceTier(tier)
	o.Status = model.OrderStatus(status)
	o.Plan = &p
	return &o, nil
}

// CreateOrder сохраняет новый заказ.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO orders (id, user_id, plan_id, tier, status, quantity, total_amount, currency, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			o.ID, o.UserID, o.PlanID, string(o.Tier), string(o.Status), o.Quantity, o.TotalAmount,
			o.Currency, o.CreatedAt, o.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
}

// GetOrder возвращает заказ вместе с планом.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, func() error {
		var err error
		o, err = scanOrder(r.pool.QueryRow(ctx,
			`SELECT `+orderColumns+`, `+planColumns+`
			 FROM orders o JOIN plans p ON p.id = o.plan_id
			 WHERE o.id = $1`,
			id,
		))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrdersByUser возвращает заказы пользователя, начиная с самых новых.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`, `+planColumns+`
		 FROM orders o JOIN plans p ON p.id = o.plan_id
		 WHERE o.user_id = $1
		 ORDER BY o.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// GetLatestCompletedOrder возвращает самый свежий оплаченный и не истёкший на момент now заказ.
func (r *PostgresRepository) GetLatestCompletedOrder(ctx context.Context, userID int64, now time.Time) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+`, `+planColumns+`
		 FROM orders o JOIN plans p ON p.id = o.plan_id
		 WHERE o.user_id = $1 AND o.status = $2 AND (o.expires_at IS NULL OR o.expires_at > $3)
		 ORDER BY o.created_at DESC
		 LIMIT 1`,
		userID, string(model.OrderStatusCompleted), now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get active order: %w", err)
	}
	return o, nil
}

// GetOrderByPaymentRef возвращает самый свежий заказ с указанной ссылкой на платёж.
func (r *PostgresRepository) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+`, `+planColumns+`
		 FROM orders o JOIN plans p ON p.id = o.plan_id
		 WHERE o.external_payment_ref = $1
		 ORDER BY o.created_at DESC
		 LIMIT 1`,
		paymentRef,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order by payment ref: %w", err)
	}
	return o, nil
}

// SetOrderPaymentRef сохраняет идентификатор платежа у заказа, пока тот находится в PENDING.
func (r *PostgresRepository) SetOrderPaymentRef(ctx context.Context, id, paymentRef string) error {
	return r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE orders SET external_payment_ref = $2 WHERE id = $1 AND status = $3`,
			id, paymentRef, string(model.OrderStatusPending),
		)
		if err != nil {
			return fmt.Errorf("update order payment ref: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrOrderNotPending
		}
		return nil
	})
}

// TransitionOrder переводит заказ из PENDING в статус to одной операцией сравнения и записи.
// Срок действия записывается, только если он ещё не был установлен.
// Возвращает false, если заказ уже покинул PENDING.
func (r *PostgresRepository) TransitionOrder(ctx context.Context, id string, to model.OrderStatus, expiresAt *time.Time) (bool, error) {
	var applied bool
	err := r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE orders
			 SET status = $2, expires_at = COALESCE(expires_at, $3)
			 WHERE id = $1 AND status = $4`,
			id, string(to), expiresAt, string(model.OrderStatusPending),
		)
		if err != nil {
			return fmt.Errorf("transition order: %w", err)
		}
		applied = cmdTag.RowsAffected() == 1
		return nil
	})
	return applied, err
}
