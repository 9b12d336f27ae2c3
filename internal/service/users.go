package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/model"
	"github.com/mmeshcher/subscription-storefront/internal/repository"
)

// LoginWithProvider находит или создаёт пользователя по учётной записи внешнего провайдера.
func (s *Service) LoginWithProvider(ctx context.Context, provider, providerAccountID, name, email string) (*model.User, error) {
	providerAccountID = strings.TrimSpace(providerAccountID)
	if providerAccountID == "" {
		return nil, fmt.Errorf("%w: provider account id is required", ErrValidation)
	}

	u, err := s.repo.UpsertProviderUser(ctx, provider, providerAccountID, strings.TrimSpace(name), strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed in",
		zap.Int64("user_id", u.ID),
		zap.String("provider", provider),
	)
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// IsAdmin сообщает, является ли пользователь администратором.
func (s *Service) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.IsAdmin(), nil
}
