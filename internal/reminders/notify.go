package reminders

import "time"

// NotifyTiming selects how long before the reminder date a notification fires.
type NotifyTiming string

const (
	NotifyOnDay      NotifyTiming = "on-day"
	NotifyDayBefore  NotifyTiming = "day-before"
	NotifyWeekBefore NotifyTiming = "week-before"
)

// ParseNotifyTiming returns the timing for raw, defaulting to NotifyOnDay.
func ParseNotifyTiming(raw string) NotifyTiming {
	switch NotifyTiming(raw) {
	case NotifyDayBefore:
		return NotifyDayBefore
	case NotifyWeekBefore:
		return NotifyWeekBefore
	default:
		return NotifyOnDay
	}
}

func (timing NotifyTiming) offsetDays() int {
	switch timing {
	case NotifyDayBefore:
		return 1
	case NotifyWeekBefore:
		return 7
	default:
		return 0
	}
}

// NextNotification returns the first yearly occurrence of remindAt, shifted by
// timing, that falls strictly after now.
func NextNotification(remindAt Timestamp, timing NotifyTiming, now time.Time) Timestamp {
	anchor := remindAt.Time()
	offset := timing.offsetDays()
	for years := 0; ; years++ {
		candidate := anchor.AddDate(years, 0, -offset)
		if candidate.After(now) {
			return NewTimestamp(candidate)
		}
	}
}

// AdvanceYear moves a notification time one year ahead.
func AdvanceYear(ts Timestamp) Timestamp {
	return NewTimestamp(ts.Time().AddDate(1, 0, 0))
}
