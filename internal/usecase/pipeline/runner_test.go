package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
)

type recorder struct {
	calls []string
	fail  string
}

type filterStub struct{ r *recorder }

func (f filterStub) Run(context.Context) (domain.FilterReport, error) {
	f.r.calls = append(f.r.calls, "filter")
	if f.r.fail == "filter" {
		return domain.FilterReport{}, errors.New("export down")
	}
	return domain.FilterReport{Accepted: 2}, nil
}

type aggregateStub struct{ r *recorder }

func (a aggregateStub) Run(context.Context) (domain.AggregateReport, error) {
	a.r.calls = append(a.r.calls, "aggregate")
	return domain.AggregateReport{Inserted: 1}, nil
}

type rankStub struct{ r *recorder }

func (k rankStub) Run(context.Context) (int, error) {
	k.r.calls = append(k.r.calls, "rank")
	return 3, nil
}

type stubLock struct {
	held     bool
	acquired int
	released int
}

func (l *stubLock) Acquire(context.Context, string, time.Duration) (domain.ReleaseFunc, error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.held = true
	l.acquired++
	return func(context.Context) error {
		l.held = false
		l.released++
		return nil
	}, nil
}

func newTestRunner(rec *recorder, lock *stubLock) *Runner {
	var runLock domain.RunLock
	if lock != nil {
		runLock = lock
	}
	r := NewRunner(filterStub{rec}, aggregateStub{rec}, rankStub{rec}, runLock, time.Minute, zerolog.Nop())
	r.newRunID = func() string { return "run-1" }
	return r
}

func TestRunnerFullRunOrder(t *testing.T) {
	rec := &recorder{}
	lock := &stubLock{}
	report, err := newTestRunner(rec, lock).Run(context.Background(), domain.RunKindFull)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := []string{"filter", "aggregate", "rank"}
	if len(rec.calls) != len(want) {
		t.Fatalf("этапы %v, ожидали %v", rec.calls, want)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Fatalf("этапы %v, ожидали %v", rec.calls, want)
		}
	}
	if report.RunID != "run-1" || report.Filter.Accepted != 2 || report.Aggregate.Inserted != 1 || report.Ranked != 3 {
		t.Fatalf("неверный отчёт: %+v", report)
	}
	if lock.acquired != 1 || lock.released != 1 {
		t.Fatalf("блокировка должна быть взята и отпущена один раз")
	}
}

func TestRunnerSkipsWhenLockHeld(t *testing.T) {
	rec := &recorder{}
	_, err := newTestRunner(rec, &stubLock{held: true}).Run(context.Background(), domain.RunKindPoints)
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("ожидали ErrLockHeld, получили %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("этапы не должны запускаться: %v", rec.calls)
	}
}

func TestRunnerStopsOnStageError(t *testing.T) {
	rec := &recorder{fail: "filter"}
	lock := &stubLock{}
	if _, err := newTestRunner(rec, lock).Run(context.Background(), domain.RunKindFull); err == nil {
		t.Fatalf("ожидали ошибку этапа")
	}
	if len(rec.calls) != 1 {
		t.Fatalf("после ошибки этапы не продолжаются: %v", rec.calls)
	}
	if lock.released != 1 {
		t.Fatalf("блокировка освобождается и при ошибке")
	}
}

func TestRunnerWithoutLock(t *testing.T) {
	rec := &recorder{}
	if _, err := newTestRunner(rec, nil).Run(context.Background(), domain.RunKindFilter); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "filter" {
		t.Fatalf("ожидали только фильтр: %v", rec.calls)
	}
}

func TestRunnerUnknownKind(t *testing.T) {
	if _, err := newTestRunner(&recorder{}, nil).Run(context.Background(), "bogus"); err == nil {
		t.Fatalf("ожидали ошибку для неизвестного вида запуска")
	}
}
