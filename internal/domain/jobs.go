package domain

import "time"

// RunStage описывает этап пайплайна.
type RunStage string

const (
	StageFilter     RunStage = "filter"
	StageAggregate  RunStage = "aggregate"
	StageRank       RunStage = "rank"
	StagePowerUsers RunStage = "power_users"
)

// RunKind выбирает набор этапов одного запуска.
type RunKind string

const (
	// RunKindFilter: выгрузка, архив и фильтрация.
	RunKindFilter RunKind = "filter"
	// RunKindPoints: пересчёт очков и рангов.
	RunKindPoints RunKind = "points"
	// RunKindFull: все этапы подряд.
	RunKindFull RunKind = "full"
)

// Stages возвращает этапы запуска в порядке выполнения.
func (k RunKind) Stages() []RunStage {
	switch k {
	case RunKindFilter:
		return []RunStage{StageFilter}
	case RunKindPoints:
		return []RunStage{StageAggregate, StageRank}
	case RunKindFull:
		return []RunStage{StageFilter, StageAggregate, StageRank}
	}
	return nil
}

// FilterReport: итог фильтрации.
type FilterReport struct {
	Fetched   int
	Archived  int
	Eligible  int
	Accepted  int
	Inserted  int
	Rejected  map[RejectReason]int
	Watermark time.Time
}

// RejectReason: причина отказа в засчитывании ответа.
type RejectReason string

const (
	RejectBeforeWatermark RejectReason = "before_watermark"
	RejectNoMarker        RejectReason = "no_marker"
	RejectSelfReply       RejectReason = "self_reply"
	RejectQuota           RejectReason = "quota"
	RejectDuplicate       RejectReason = "duplicate"
)

// AggregateReport: итог пересчёта очков.
type AggregateReport struct {
	Reactions int
	Users     int
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int
}

// RunReport: итог одного запуска пайплайна.
type RunReport struct {
	RunID      string
	Kind       RunKind
	StartedAt  time.Time
	FinishedAt time.Time
	Filter     FilterReport
	Aggregate  AggregateReport
	Ranked     int
}
