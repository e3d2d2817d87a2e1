package points

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
)

// Ranker пересчитывает места в лидерборде.
type Ranker struct {
	ledger domain.LedgerRepo
	logger zerolog.Logger
}

// NewRanker создаёт ранкер.
func NewRanker(ledger domain.LedgerRepo, logger zerolog.Logger) *Ranker {
	return &Ranker{ledger: ledger, logger: logger.With().Str("component", "ranker").Logger()}
}

// Run ранжирует все строки по очкам и записывает ранги одной транзакцией.
func (r *Ranker) Run(ctx context.Context) (int, error) {
	rows, err := r.ledger.ListPoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("чтение очков: %w", err)
	}
	updates := Rank(rows)
	if err := r.ledger.WriteRanks(ctx, updates); err != nil {
		return 0, fmt.Errorf("запись рангов: %w", err)
	}
	r.logger.Info().Int("rows", len(updates)).Msg("ranker: ranks written")
	return len(updates), nil
}

// Rank считает ранг с пропусками: одинаковые очки делят место,
// следующее значение получает 1 + число строк строго выше.
func Rank(rows []domain.LedgerPoints) []domain.RankUpdate {
	sorted := append([]domain.LedgerPoints(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Points != sorted[j].Points {
			return sorted[i].Points > sorted[j].Points
		}
		return sorted[i].ID < sorted[j].ID
	})
	updates := make([]domain.RankUpdate, 0, len(sorted))
	var rank int64
	for i, row := range sorted {
		if i == 0 || row.Points != sorted[i-1].Points {
			rank = int64(i) + 1
		}
		updates = append(updates, domain.RankUpdate{ID: row.ID, Rank: rank})
	}
	return updates
}
