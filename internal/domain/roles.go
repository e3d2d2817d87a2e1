package domain

import "time"

// UserClass описывает класс пользователя для дневной квоты.
type UserClass string

const (
	UserClassRegular UserClass = "regular"
	UserClassPower   UserClass = "power"
)

// ClassFor определяет класс отправителя по снимку power-пользователей.
// Пустой или устаревший снимок означает, что все пользователи обычные.
func ClassFor(snapshot PowerUserSnapshot, fid int64, now time.Time, maxAge time.Duration) UserClass {
	if !snapshot.Fresh(now, maxAge) {
		return UserClassRegular
	}
	if snapshot.Contains(fid) {
		return UserClassPower
	}
	return UserClassRegular
}

// Fresh сообщает, можно ли доверять снимку. Нулевой maxAge отключает проверку возраста.
func (s PowerUserSnapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	if len(s.Fids) == 0 || s.FetchedAt.IsZero() {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	return now.Sub(s.FetchedAt) <= maxAge
}

// QuotaKey: ключ дневного счётчика: отправитель, операционные сутки и индекс режима.
type QuotaKey struct {
	Fid    int64
	Day    string
	Regime int
}

// DailyQuotaCounter: счётчик принятых ответов в пределах одного ключа.
type DailyQuotaCounter struct {
	Count int
	Limit int
}

// Allowed сообщает, есть ли ещё место в квоте.
func (c DailyQuotaCounter) Allowed() bool {
	return c.Count < c.Limit
}

// Remaining возвращает остаток квоты.
func (c DailyQuotaCounter) Remaining() int {
	remaining := c.Limit - c.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}
