package score

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/httpclient"
	"powerfeed/internal/infra/metrics"
)

// Config задаёт параметры поиска неизвестных пользователей.
type Config struct {
	// LookupTimeout ограничивает поиск одного пользователя вместе с повторами.
	LookupTimeout time.Duration
	MaxAttempts   int
	Workers       int
}

func (c Config) withDefaults() Config {
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	return c
}

// Resolver находит репутацию пользователей и лениво создаёт записи для новых fid.
type Resolver struct {
	scores     domain.ScoreRepo
	profiles   domain.ProfileLookup
	reputation domain.ReputationLookup
	builder    domain.BuilderLookup
	regimes    domain.RegimeTable
	cfg        Config
	logger     zerolog.Logger
	newBackOff func() backoff.BackOff
	newToken   func() (string, error)
	now        func() time.Time
}

// NewResolver создаёт резолвер. builder может быть nil, тогда builder score равен 0.
func NewResolver(scores domain.ScoreRepo, profiles domain.ProfileLookup, reputation domain.ReputationLookup, builder domain.BuilderLookup, regimes domain.RegimeTable, cfg Config, logger zerolog.Logger) *Resolver {
	return &Resolver{
		scores:     scores,
		profiles:   profiles,
		reputation: reputation,
		builder:    builder,
		regimes:    regimes,
		cfg:        cfg.withDefaults(),
		logger:     logger.With().Str("component", "score").Logger(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		newToken: domain.NewAccessToken,
		now:      time.Now,
	}
}

// Prefetch создаёт записи для ещё неизвестных fid. Ошибки поиска отдельных пользователей не прерывают проход.
func (r *Resolver) Prefetch(ctx context.Context, fids []int64) error {
	return r.NewSession().Prefetch(ctx, fids)
}

// lookup ищет профиль, репутацию и builder score с повторами и сохраняет новую запись.
func (r *Resolver) lookup(ctx context.Context, fid int64) (domain.UserScoreRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	var (
		profile    domain.Profile
		reputation float64
	)
	operation := func() error {
		var err error
		profile, err = r.profiles.LookupProfile(ctx, fid)
		if err != nil {
			return retryable(fmt.Errorf("профиль: %w", err))
		}
		reputation, err = r.reputation.LookupReputation(ctx, fid)
		if err != nil {
			return retryable(fmt.Errorf("репутация: %w", err))
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.cfg.MaxAttempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return domain.UserScoreRecord{}, err
	}

	figure := normalizeReputation(reputation)
	builder := r.maxBuilderScore(ctx, profile.VerifiedAddresses)
	token, err := r.newToken()
	if err != nil {
		return domain.UserScoreRecord{}, fmt.Errorf("генерация токена: %w", err)
	}
	now := r.now().UTC()
	rec := domain.UserScoreRecord{
		Fid:             fid,
		Username:        profile.Username,
		ProfileImageURL: profile.ProfileImageURL,
		PrimaryScore:    &figure,
		SecondaryScore:  &figure,
		TertiaryScore:   &figure,
		BuilderScore:    &builder,
		AccessToken:     token,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	inserted, err := r.scores.Insert(ctx, rec)
	if err != nil {
		return domain.UserScoreRecord{}, fmt.Errorf("сохранение записи: %w", err)
	}
	if !inserted {
		// Запись успели создать параллельно.
		existing, err := r.scores.Get(ctx, fid)
		if err != nil {
			return domain.UserScoreRecord{}, fmt.Errorf("чтение записи после конфликта: %w", err)
		}
		return existing, nil
	}
	return rec, nil
}

// retryable помечает постоянные ошибки (не найден, 4xx кроме 429), чтобы backoff их не повторял.
func retryable(err error) error {
	if !httpclient.IsTemporary(err) {
		return backoff.Permanent(err)
	}
	return err
}

// maxBuilderScore берёт максимум по адресам. Ошибки отдельных адресов дают 0.
func (r *Resolver) maxBuilderScore(ctx context.Context, addresses []string) float64 {
	if r.builder == nil {
		return 0
	}
	best := 0.0
	for _, addr := range addresses {
		value, err := r.builder.BuilderScore(ctx, addr)
		if err != nil {
			r.logger.Debug().Err(err).Str("address", addr).Msg("score: builder lookup failed")
			continue
		}
		if value > best {
			best = value
		}
	}
	return normalizeBuilder(best)
}

// liveReputation заново запрашивает первичную репутацию без сохранения.
func (r *Resolver) liveReputation(ctx context.Context, fid int64) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()
	value, err := r.reputation.LookupReputation(ctx, fid)
	if err != nil {
		metrics.IncScoreLookup("live_failed")
		return 0, err
	}
	metrics.IncScoreLookup("live")
	return normalizeReputation(value), nil
}
