package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/model"
	"github.com/mmeshcher/subscription-storefront/internal/repository"
)

// ListPlans возвращает планы по имени. Неактивные планы видны только привилегированным вызывающим.
func (s *Service) ListPlans(ctx context.Context, privileged bool) ([]model.Plan, error) {
	return s.repo.ListPlans(ctx, privileged)
}

// GetPlan возвращает план по идентификатору.
func (s *Service) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	if !isUUID(id) {
		return nil, ErrPlanNotFound
	}

	p, err := s.repo.GetPlan(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return p, nil
}

// CreatePlan проверяет и сохраняет новый план.
func (s *Service) CreatePlan(ctx context.Context, p *model.Plan) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("%w: plan name is required", ErrValidation)
	}
	if err := validatePrice(p.PriceMonthly); err != nil {
		return err
	}
	if err := validatePrice(p.PriceAnnually); err != nil {
		return err
	}

	p.ID = s.newID()

	if err := s.repo.CreatePlan(ctx, p); err != nil {
		if errors.Is(err, repository.ErrPlanNameTaken) {
			return ErrPlanNameTaken
		}
		return err
	}

	s.logger.Info("plan created", zap.String("plan_id", p.ID), zap.String("name", p.Name))
	return nil
}

// UpdatePlan применяет частичное обновление плана.
func (s *Service) UpdatePlan(ctx context.Context, id string, upd model.PlanUpdate) (*model.Plan, error) {
	if upd.IsEmpty() {
		return nil, ErrEmptyPlanUpdate
	}
	if !isUUID(id) {
		return nil, ErrPlanNotFound
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: plan name is required", ErrValidation)
		}
		upd.Name = &name
	}
	if upd.PriceMonthly != nil {
		if err := validatePrice(*upd.PriceMonthly); err != nil {
			return nil, err
		}
	}
	if upd.PriceAnnually != nil {
		if err := validatePrice(*upd.PriceAnnually); err != nil {
			return nil, err
		}
	}

	p, err := s.repo.UpdatePlan(ctx, id, upd)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrPlanNotFound
		case errors.Is(err, repository.ErrPlanPriceLocked):
			return nil, ErrPlanPriceLocked
		case errors.Is(err, repository.ErrPlanNameTaken):
			return nil, ErrPlanNameTaken
		}
		return nil, err
	}
	return p, nil
}

// DeactivatePlan снимает план с продажи. Существующие заказы сохраняют ссылку на него.
func (s *Service) DeactivatePlan(ctx context.Context, id string) (*model.Plan, error) {
	if !isUUID(id) {
		return nil, ErrPlanNotFound
	}

	p, err := s.repo.DeactivatePlan(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return p, nil
}

func validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if !price.Equal(price.Round(2)) {
		return fmt.Errorf("%w: price must have at most two decimal places", ErrValidation)
	}
	return nil
}
