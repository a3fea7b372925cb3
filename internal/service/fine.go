package service

import (
	"math"
	"time"
)

// BaseFine is the penalty for the first late day, in currency minor units.
// The doubling curve and base value are an audit contract: fines already
// charged must remain reproducible from (due date, return date) alone.
const BaseFine int64 = 2000

// maxFineShift is the last doubling that still fits in int64; beyond it the
// fine saturates instead of wrapping negative.
const maxFineShift = 52

func midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LateDays returns the number of calendar days the return is past due, both
// dates truncated to midnight. Early or on-time returns clamp to 0.
func LateDays(dueDate, returnDate time.Time) int {
	days := int(midnight(returnDate).Sub(midnight(dueDate)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Fine maps a late-day count to the owed amount: 0 when on time, otherwise
// BaseFine doubling per additional late day (1 day -> 2000, 2 -> 4000,
// 3 -> 8000), saturating at math.MaxInt64 so a long-overdue loan always owes
// a positive fine.
func Fine(lateDays int) int64 {
	if lateDays <= 0 {
		return 0
	}
	if lateDays-1 > maxFineShift {
		return math.MaxInt64
	}
	return BaseFine << (lateDays - 1)
}
