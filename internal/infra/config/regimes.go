package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"powerfeed/internal/domain"
)

// RegimesFile: формат файла с таблицей режимов.
//
//	fallback_formula = "legacy"
//
//	[[regime]]
//	name = "power-quotas"
//	effective_from = 2024-06-05T16:00:00Z
//	power_quota = 10
//	regular_quota = 5
//
//	[[price_window]]
//	formula = "dual"
//	start = 2024-06-10T18:00:00Z
//	end = 2024-07-01T16:00:00Z
type RegimesFile struct {
	FallbackFormula string            `toml:"fallback_formula"`
	Regimes         []RegimeEntry     `toml:"regime"`
	PriceWindows    []PriceWindowItem `toml:"price_window"`
}

// RegimeEntry: один режим квот. Пустой effective_from означает начало времён.
type RegimeEntry struct {
	Name          string    `toml:"name"`
	EffectiveFrom time.Time `toml:"effective_from"`
	PowerQuota    int       `toml:"power_quota"`
	RegularQuota  int       `toml:"regular_quota"`
}

// PriceWindowItem: окно формулы цены. Пустой end означает открытый конец.
type PriceWindowItem struct {
	Formula string    `toml:"formula"`
	Start   time.Time `toml:"start"`
	End     time.Time `toml:"end"`
}

// LoadRegimes читает таблицу режимов. Пустой путь даёт встроенную историческую таблицу.
func LoadRegimes(path string) (domain.RegimeTable, error) {
	if path == "" {
		return domain.DefaultRegimeTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RegimeTable{}, fmt.Errorf("чтение файла режимов: %w", err)
	}
	return ParseRegimes(data)
}

// ParseRegimes разбирает TOML и валидирует таблицу.
func ParseRegimes(data []byte) (domain.RegimeTable, error) {
	var file RegimesFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return domain.RegimeTable{}, fmt.Errorf("разбор файла режимов: %w", err)
	}
	regimes := make([]domain.Regime, 0, len(file.Regimes))
	for _, r := range file.Regimes {
		regimes = append(regimes, domain.Regime{
			Name:                r.Name,
			EffectiveFrom:       r.EffectiveFrom.UTC(),
			QuotaForPowerUser:   r.PowerQuota,
			QuotaForRegularUser: r.RegularQuota,
		})
	}
	prices := make([]domain.PriceWindow, 0, len(file.PriceWindows))
	for _, p := range file.PriceWindows {
		prices = append(prices, domain.PriceWindow{
			Formula: domain.ScoreFormula(p.Formula),
			Start:   p.Start.UTC(),
			End:     p.End.UTC(),
		})
	}
	table, err := domain.NewRegimeTable(regimes, prices, domain.ScoreFormula(file.FallbackFormula))
	if err != nil {
		return domain.RegimeTable{}, fmt.Errorf("таблица режимов: %w", err)
	}
	return table, nil
}
