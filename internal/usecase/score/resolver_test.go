package score

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/httpclient"
)

type stubScores struct {
	mu       sync.Mutex
	records  map[int64]domain.UserScoreRecord
	inserts  int
	conflict bool
}

func newStubScores(records ...domain.UserScoreRecord) *stubScores {
	s := &stubScores{records: make(map[int64]domain.UserScoreRecord)}
	for _, rec := range records {
		s.records[rec.Fid] = rec
	}
	return s
}

func (s *stubScores) ListAll(context.Context) ([]domain.UserScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserScoreRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *stubScores) Get(_ context.Context, fid int64) (domain.UserScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fid]
	if !ok {
		return domain.UserScoreRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *stubScores) Insert(_ context.Context, rec domain.UserScoreRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflict {
		existing := rec
		existing.Username = "raced"
		s.records[rec.Fid] = existing
		return false, nil
	}
	if _, ok := s.records[rec.Fid]; ok {
		return false, nil
	}
	s.records[rec.Fid] = rec
	s.inserts++
	return true, nil
}

type stubProfiles struct {
	calls atomic.Int32
	block bool
	err   error
}

func (s *stubProfiles) LookupProfile(ctx context.Context, fid int64) (domain.Profile, error) {
	s.calls.Add(1)
	if s.err != nil {
		return domain.Profile{}, s.err
	}
	if s.block {
		<-ctx.Done()
		return domain.Profile{}, ctx.Err()
	}
	return domain.Profile{
		Fid:               fid,
		Username:          fmt.Sprintf("user%d", fid),
		ProfileImageURL:   "https://img.example/" + fmt.Sprint(fid),
		VerifiedAddresses: []string{"0xa", "0xb", "0xbad"},
	}, nil
}

type stubReputation struct {
	calls   atomic.Int32
	failFor int32
	value   float64
	err     error
}

func (s *stubReputation) LookupReputation(context.Context, int64) (float64, error) {
	n := s.calls.Add(1)
	if n <= s.failFor {
		if s.err != nil {
			return 0, s.err
		}
		return 0, errors.New("job failed")
	}
	return s.value, nil
}

type stubBuilder struct{}

func (stubBuilder) BuilderScore(_ context.Context, addr string) (float64, error) {
	switch addr {
	case "0xa":
		return 12, nil
	case "0xb":
		return 40, nil
	}
	return 0, errors.New("unknown wallet")
}

func newTestResolver(scores *stubScores, profiles *stubProfiles, rep *stubReputation) *Resolver {
	r := NewResolver(scores, profiles, rep, stubBuilder{}, domain.DefaultRegimeTable(), Config{LookupTimeout: time.Second, MaxAttempts: 3, Workers: 4}, zerolog.Nop())
	r.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return r
}

func TestResolveCreatesRecordForUnknownFid(t *testing.T) {
	scores := newStubScores()
	r := newTestResolver(scores, &stubProfiles{}, &stubReputation{value: 4})
	set, err := r.NewSession().Resolve(context.Background(), 42)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if set.Primary != 4 || set.Secondary != 4 || set.Tertiary != 4 || set.Builder != 40 {
		t.Fatalf("неверный набор: %+v", set)
	}
	rec := scores.records[42]
	if rec.Username != "user42" || len(rec.AccessToken) != 22 {
		t.Fatalf("неверная запись: %+v", rec)
	}
	if *rec.PrimaryScore != 4 || *rec.SecondaryScore != 4 || *rec.TertiaryScore != 4 || *rec.BuilderScore != 40 {
		t.Fatalf("все версии должны быть заполнены одним значением")
	}
}

func TestResolveRetriesTransientFailures(t *testing.T) {
	scores := newStubScores()
	rep := &stubReputation{failFor: 2, value: 3}
	set, err := newTestResolver(scores, &stubProfiles{}, rep).NewSession().Resolve(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if set.Primary != 3 || rep.calls.Load() != 3 {
		t.Fatalf("ожидали успех с третьей попытки, set=%+v calls=%d", set, rep.calls.Load())
	}
}

func TestResolveDoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int32
	}{
		{name: "unauthorized", err: fmt.Errorf("neynar api error: %w", &httpclient.StatusError{Status: 401}), wantCalls: 1},
		{name: "bad request", err: fmt.Errorf("neynar api error: %w", &httpclient.StatusError{Status: 400}), wantCalls: 1},
		{name: "not found", err: fmt.Errorf("профиль: %w", domain.ErrNotFound), wantCalls: 1},
		{name: "rate limited", err: fmt.Errorf("neynar api error: %w", &httpclient.StatusError{Status: 429}), wantCalls: 3},
		{name: "server error", err: fmt.Errorf("neynar api error: %w", &httpclient.StatusError{Status: 503}), wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := newStubScores()
			profiles := &stubProfiles{err: tt.err}
			set, err := newTestResolver(scores, profiles, &stubReputation{value: 4}).NewSession().Resolve(context.Background(), 5)
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if set != DefaultScoreSet() {
				t.Fatalf("ожидали набор по умолчанию, получили %+v", set)
			}
			if got := profiles.calls.Load(); got != tt.wantCalls {
				t.Fatalf("ожидали %d вызовов профиля, получили %d", tt.wantCalls, got)
			}
		})
	}
}

func TestResolveDoesNotRetryPermanentReputationError(t *testing.T) {
	rep := &stubReputation{failFor: 100, err: fmt.Errorf("dune api error: %w", &httpclient.StatusError{Status: 401})}
	if _, err := newTestResolver(newStubScores(), &stubProfiles{}, rep).NewSession().Resolve(context.Background(), 5); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := rep.calls.Load(); got != 1 {
		t.Fatalf("ожидали один вызов репутации, получили %d", got)
	}
}

func TestResolveFailureUsesDefaultsAndPersistsNothing(t *testing.T) {
	scores := newStubScores()
	rep := &stubReputation{failFor: 100}
	session := newTestResolver(scores, &stubProfiles{}, rep).NewSession()
	set, err := session.Resolve(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if set != DefaultScoreSet() {
		t.Fatalf("ожидали набор по умолчанию, получили %+v", set)
	}
	if rep.calls.Load() != 3 {
		t.Fatalf("ожидали 3 попытки, получили %d", rep.calls.Load())
	}
	if len(scores.records) != 0 {
		t.Fatalf("при неудаче ничего не сохраняется")
	}
	if _, err := session.Resolve(context.Background(), 5); err != nil || rep.calls.Load() != 3 {
		t.Fatalf("неудача кэшируется в сессии, calls=%d", rep.calls.Load())
	}
}

func TestResolveTimeout(t *testing.T) {
	scores := newStubScores()
	r := newTestResolver(scores, &stubProfiles{block: true}, &stubReputation{value: 4})
	r.cfg.LookupTimeout = 20 * time.Millisecond
	set, err := r.NewSession().Resolve(context.Background(), 9)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if set.Primary != 1 || set.Builder != 0 || len(scores.records) != 0 {
		t.Fatalf("ожидали значения по умолчанию без записи, получили %+v", set)
	}
}

func TestResolveInsertConflictReadsExisting(t *testing.T) {
	scores := newStubScores()
	scores.conflict = true
	session := newTestResolver(scores, &stubProfiles{}, &stubReputation{value: 4}).NewSession()
	if _, err := session.Resolve(context.Background(), 11); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	rec, ok := session.Record(11)
	if !ok || rec.Username != "raced" {
		t.Fatalf("ожидали запись конкурента, получили %+v", rec)
	}
}

func TestSessionLoadUsesStoredRecords(t *testing.T) {
	scores := newStubScores(domain.UserScoreRecord{Fid: 1, PrimaryScore: ptr(2)})
	profiles := &stubProfiles{}
	session := newTestResolver(scores, profiles, &stubReputation{value: 9}).NewSession()
	if err := session.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	set, err := session.Resolve(context.Background(), 1)
	if err != nil || set.Primary != 2 {
		t.Fatalf("ожидали сохранённое значение, set=%+v err=%v", set, err)
	}
	if profiles.calls.Load() != 0 {
		t.Fatalf("для известного fid поиск не выполняется")
	}
}

func TestPrefetchResolvesConcurrently(t *testing.T) {
	scores := newStubScores()
	r := newTestResolver(scores, &stubProfiles{}, &stubReputation{value: 2})
	fids := make([]int64, 0, 40)
	for i := int64(1); i <= 20; i++ {
		fids = append(fids, i, i)
	}
	if err := r.Prefetch(context.Background(), fids); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if len(scores.records) != 20 || scores.inserts != 20 {
		t.Fatalf("ожидали 20 записей, получили %d", len(scores.records))
	}
}

func TestPriceVersionedLiveRefetchMemoised(t *testing.T) {
	versionedAt := domain.CutoffVersioned.Add(time.Hour)
	scores := newStubScores(domain.UserScoreRecord{Fid: 3, PrimaryScore: ptr(2)})
	rep := &stubReputation{value: 6}
	session := newTestResolver(scores, &stubProfiles{}, rep).NewSession()
	if err := session.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i := 0; i < 3; i++ {
		price, err := session.Price(context.Background(), 3, versionedAt)
		if err != nil {
			t.Fatalf("Price: %v", err)
		}
		if price != 30 {
			t.Fatalf("ожидали цену 30 по свежей репутации, получили %d", price)
		}
	}
	if rep.calls.Load() != 1 {
		t.Fatalf("перезапрос должен выполняться один раз, получили %d", rep.calls.Load())
	}
}

func TestPriceVersionedLiveRefetchFailureFallsBack(t *testing.T) {
	versionedAt := domain.CutoffVersioned.Add(time.Hour)
	scores := newStubScores(domain.UserScoreRecord{Fid: 3, PrimaryScore: ptr(2)})
	session := newTestResolver(scores, &stubProfiles{}, &stubReputation{failFor: 100}).NewSession()
	if err := session.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	price, err := session.Price(context.Background(), 3, versionedAt)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if price != 10 {
		t.Fatalf("ожидали цену по сохранённому значению 10, получили %d", price)
	}
}

func TestPriceDualWithSeededScores(t *testing.T) {
	dualAt := domain.CutoffQuotaRevise.Add(time.Hour)
	scores := newStubScores(domain.UserScoreRecord{Fid: 1, PrimaryScore: ptr(4), SecondaryScore: ptr(4), TertiaryScore: ptr(4), BuilderScore: ptr(6)})
	session := newTestResolver(scores, &stubProfiles{}, &stubReputation{}).NewSession()
	if err := session.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	price, err := session.Price(context.Background(), 1, dualAt)
	if err != nil || price != 50 {
		t.Fatalf("ожидали 50, получили %d (%v)", price, err)
	}
}
