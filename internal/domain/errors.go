package domain

import "errors"

var (
	// ErrNotFound возвращается репозиториями при отсутствии записи.
	ErrNotFound = errors.New("not found")
	// ErrLockHeld: другой процесс уже выполняет пайплайн.
	ErrLockHeld = errors.New("pipeline lock already held")
	// ErrMalformedEvent: в строке выгрузки нет обязательных полей.
	ErrMalformedEvent = errors.New("malformed reply event")
	// ErrSnapshotStale: снимок power-пользователей устарел или отсутствует.
	ErrSnapshotStale = errors.New("power user snapshot is stale")
	// ErrScoreUnavailable: внешний сервис не вернул репутацию.
	ErrScoreUnavailable = errors.New("reputation score unavailable")
)
