package hunt

import "time"

// Window is a daily active-hours span in minutes since midnight, local to
// whatever clock the caller passes in. Start == End means always open, and a
// window with Start > End wraps past midnight (e.g. 22:00 -> 02:00).
type Window struct {
	Start int
	End   int
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func (w Window) Contains(t time.Time) bool {
	if w.Start == w.End {
		return true
	}
	m := minuteOfDay(t)
	if w.Start < w.End {
		return w.Start <= m && m < w.End
	}
	return m >= w.Start || m < w.End
}

// NextOpening returns the earliest instant at or after t that falls inside
// the window. If t is already inside, t is returned unchanged.
func (w Window) NextOpening(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	opening := time.Date(t.Year(), t.Month(), t.Day(), w.Start/60, w.Start%60, 0, 0, t.Location())
	if !opening.After(t) {
		opening = opening.AddDate(0, 0, 1)
	}
	return opening
}
