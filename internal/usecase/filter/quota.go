package filter

import (
	"sort"
	"time"

	"powerfeed/internal/domain"
)

// Lookback: глубина повторной проверки относительно водяного знака.
const Lookback = 24 * time.Hour

// pairKey: пара «отправитель, исходный каст». Засчитывается один раз.
type pairKey struct {
	fid      int64
	original string
}

// runState: состояние одного прохода фильтра. Между запусками не сохраняется.
type runState struct {
	counters map[domain.QuotaKey]*domain.DailyQuotaCounter
	seen     map[pairKey]struct{}
}

func newRunState() *runState {
	return &runState{
		counters: make(map[domain.QuotaKey]*domain.DailyQuotaCounter),
		seen:     make(map[pairKey]struct{}),
	}
}

// Classifier сообщает, является ли fid power-пользователем.
type Classifier func(fid int64) bool

// Apply применяет квоты режимов и подавление дублей к сырым ответам.
// watermark: максимальный cast_timestamp уже принятых ответов, ok == false если их нет.
func Apply(events []domain.ReplyEvent, regimes domain.RegimeTable, marker Marker, watermark time.Time, ok bool, isPower Classifier) ([]domain.FilteredReaction, domain.FilterReport) {
	report := domain.FilterReport{
		Fetched:   len(events),
		Rejected:  make(map[domain.RejectReason]int),
		Watermark: watermark,
	}

	candidates := make([]domain.ReplyEvent, 0, len(events))
	if ok {
		threshold := watermark.Add(-Lookback)
		for _, ev := range events {
			if !ev.CastTimestamp.After(threshold) {
				report.Rejected[domain.RejectBeforeWatermark]++
				continue
			}
			candidates = append(candidates, ev)
		}
	} else {
		candidates = append(candidates, events...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CastTimestamp.Before(candidates[j].CastTimestamp)
	})

	state := newRunState()
	accepted := make([]domain.FilteredReaction, 0, len(candidates))
	for _, ev := range candidates {
		if !marker.Match(ev.ReplyText) {
			report.Rejected[domain.RejectNoMarker]++
			continue
		}
		if ev.ReplyFromFid == ev.ReplyToFid {
			report.Rejected[domain.RejectSelfReply]++
			continue
		}
		report.Eligible++

		idx, regime := regimes.RegimeAt(ev.CastTimestamp)
		key := domain.QuotaKey{Fid: ev.ReplyFromFid, Day: domain.AdjustedDay(ev.CastTimestamp), Regime: idx}
		counter, exists := state.counters[key]
		if !exists {
			power := isPower != nil && isPower(ev.ReplyFromFid)
			counter = &domain.DailyQuotaCounter{Limit: regime.Quota(power)}
			state.counters[key] = counter
		}

		pair := pairKey{fid: ev.ReplyFromFid, original: ev.OriginalCastHash}
		if _, dup := state.seen[pair]; dup {
			report.Rejected[domain.RejectDuplicate]++
			continue
		}
		if !counter.Allowed() {
			report.Rejected[domain.RejectQuota]++
			continue
		}

		counter.Count++
		state.seen[pair] = struct{}{}
		accepted = append(accepted, ev)
	}
	report.Accepted = len(accepted)
	return accepted, report
}
