package score

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/metrics"
)

// Session: кэш репутации на один запуск пайплайна.
type Session struct {
	resolver *Resolver

	mu      sync.Mutex
	loaded  bool
	records map[int64]domain.UserScoreRecord
	failed  map[int64]struct{}
	live    map[int64]float64
}

// NewSession создаёт пустой кэш.
func (r *Resolver) NewSession() *Session {
	return &Session{
		resolver: r,
		records:  make(map[int64]domain.UserScoreRecord),
		failed:   make(map[int64]struct{}),
		live:     make(map[int64]float64),
	}
}

// Load загружает все сохранённые записи. После загрузки отсутствие fid в кэше означает, что записи нет.
func (s *Session) Load(ctx context.Context) error {
	records, err := s.resolver.scores.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("загрузка записей репутации: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.records[rec.Fid] = rec
	}
	s.loaded = true
	return nil
}

// Record возвращает сохранённую запись из кэша.
func (s *Session) Record(fid int64) (domain.UserScoreRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fid]
	return rec, ok
}

// Records возвращает fid всех известных записей по возрастанию.
func (s *Session) Records() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	fids := make([]int64, 0, len(s.records))
	for fid := range s.records {
		fids = append(fids, fid)
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })
	return fids
}

// Resolve возвращает репутацию fid. Неудачный поиск даёт набор по умолчанию без ошибки.
// Ошибка возвращается только при отмене контекста или сбое хранилища.
func (s *Session) Resolve(ctx context.Context, fid int64) (domain.ScoreSet, error) {
	s.mu.Lock()
	if rec, ok := s.records[fid]; ok {
		s.mu.Unlock()
		return FromRecord(rec), nil
	}
	if _, ok := s.failed[fid]; ok {
		s.mu.Unlock()
		return DefaultScoreSet(), nil
	}
	loaded := s.loaded
	s.mu.Unlock()

	if !loaded {
		rec, err := s.resolver.scores.Get(ctx, fid)
		switch {
		case err == nil:
			s.store(rec)
			return FromRecord(rec), nil
		case !errors.Is(err, domain.ErrNotFound):
			return domain.ScoreSet{}, fmt.Errorf("чтение записи %d: %w", fid, err)
		}
	}

	rec, err := s.resolver.lookup(ctx, fid)
	if err != nil {
		if ctx.Err() != nil {
			return domain.ScoreSet{}, ctx.Err()
		}
		metrics.IncScoreLookup("failed")
		s.resolver.logger.Warn().Err(err).Int64("fid", fid).Msg("score: lookup failed, using defaults")
		s.mu.Lock()
		s.failed[fid] = struct{}{}
		s.mu.Unlock()
		return DefaultScoreSet(), nil
	}
	metrics.IncScoreLookup("created")
	s.store(rec)
	return FromRecord(rec), nil
}

func (s *Session) store(rec domain.UserScoreRecord) {
	s.mu.Lock()
	s.records[rec.Fid] = rec
	s.mu.Unlock()
}

// Prefetch параллельно разрешает fid ограниченным пулом воркеров.
func (s *Session) Prefetch(ctx context.Context, fids []int64) error {
	unique := make(map[int64]struct{}, len(fids))
	pending := make([]int64, 0, len(fids))
	for _, fid := range fids {
		if _, ok := unique[fid]; ok {
			continue
		}
		unique[fid] = struct{}{}
		pending = append(pending, fid)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.resolver.cfg.Workers)
	for _, fid := range pending {
		fid := fid
		g.Go(func() error {
			_, err := s.Resolve(gctx, fid)
			return err
		})
	}
	return g.Wait()
}

// Price считает цену реакции отправителя fid в момент at.
// Для versioned без сохранённой третьей версии репутация перезапрашивается один раз за сессию.
func (s *Session) Price(ctx context.Context, fid int64, at time.Time) (int64, error) {
	set, err := s.Resolve(ctx, fid)
	if err != nil {
		return 0, err
	}
	formula := s.resolver.regimes.FormulaAt(at)
	if formula == domain.FormulaVersioned && !set.TertiaryKnown {
		set.Tertiary = s.liveTertiary(ctx, fid, set.Tertiary)
	}
	return Price(formula, set), nil
}

func (s *Session) liveTertiary(ctx context.Context, fid int64, fallback float64) float64 {
	s.mu.Lock()
	if v, ok := s.live[fid]; ok {
		s.mu.Unlock()
		return v
	}
	s.mu.Unlock()

	value, err := s.resolver.liveReputation(ctx, fid)
	if err != nil {
		s.resolver.logger.Debug().Err(err).Int64("fid", fid).Msg("score: live refetch failed, using stored value")
		value = fallback
	}
	s.mu.Lock()
	s.live[fid] = value
	s.mu.Unlock()
	return value
}
