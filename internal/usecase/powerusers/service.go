package powerusers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/metrics"
)

// Service обновляет снимок power-пользователей из внешнего источника.
type Service struct {
	source domain.PowerUserSource
	set    domain.PowerUserSet
	logger zerolog.Logger
	now    func() time.Time
}

// NewService создаёт сервис синхронизации.
func NewService(source domain.PowerUserSource, set domain.PowerUserSet, logger zerolog.Logger) *Service {
	return &Service{source: source, set: set, logger: logger.With().Str("component", "powerusers").Logger(), now: time.Now}
}

// Sync полностью заменяет снимок. Пустой ответ источника снимок не затирает.
func (s *Service) Sync(ctx context.Context) (int, error) {
	fids, err := s.source.ListPowerUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("получение power-пользователей: %w", err)
	}
	if len(fids) == 0 {
		s.logger.Warn().Msg("powerusers: provider returned empty list, keeping previous snapshot")
		return 0, nil
	}
	if err := s.set.Replace(ctx, fids, s.now().UTC()); err != nil {
		return 0, fmt.Errorf("сохранение снимка: %w", err)
	}
	metrics.SetPowerUsers(len(fids))
	s.logger.Info().Int("count", len(fids)).Msg("powerusers: snapshot replaced")
	return len(fids), nil
}
