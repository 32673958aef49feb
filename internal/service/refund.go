package service

import "time"

// Refund is the outcome of the cancellation-window policy.
type Refund struct {
	Amount         int64 `json:"amount"`
	Percent        int   `json:"percent"`
	DaysUntilStart int   `json:"days_until_start"`
}

// RefundPercent maps whole days until check-in to the refunded share.
func RefundPercent(daysUntilStart int) int {
	switch {
	case daysUntilStart >= 7:
		return 100
	case daysUntilStart >= 3:
		return 50
	case daysUntilStart >= 1:
		return 25
	default:
		return 0
	}
}

// DaysUntil counts UTC calendar days from now to t. Past dates are negative.
func DaysUntil(t, now time.Time) int {
	return int(utcDate(t).Sub(utcDate(now)).Hours() / 24)
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CalculateRefund applies the cancellation window to a reservation total.
func CalculateRefund(total int64, checkIn, now time.Time) Refund {
	days := DaysUntil(checkIn, now)
	pct := RefundPercent(days)
	return Refund{
		Amount:         percentOf(total, float64(pct)),
		Percent:        pct,
		DaysUntilStart: days,
	}
}
