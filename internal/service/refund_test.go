package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefundPercent(t *testing.T) {
	tests := []struct {
		days int
		want int
	}{
		{30, 100},
		{7, 100},
		{6, 50},
		{3, 50},
		{2, 25},
		{1, 25},
		{0, 0},
		{-4, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RefundPercent(tt.days), "days=%d", tt.days)
	}
}

func TestDaysUntilCountsCalendarDays(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, 1, DaysUntil(time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC), now))
	assert.Equal(t, 0, DaysUntil(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), now))
	assert.Equal(t, -1, DaysUntil(time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), now))

	// Dates are compared in UTC regardless of the input location.
	tokyo := time.FixedZone("JST", 9*3600)
	assert.Equal(t, 1, DaysUntil(time.Date(2026, 3, 3, 8, 0, 0, 0, tokyo), now))
}

func TestCalculateRefund(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   time.Duration
		want Refund
	}{
		{"ten days", 10 * 24 * time.Hour, Refund{Amount: 1000, Percent: 100, DaysUntilStart: 10}},
		{"five days", 5 * 24 * time.Hour, Refund{Amount: 500, Percent: 50, DaysUntilStart: 5}},
		{"one day", 24 * time.Hour, Refund{Amount: 250, Percent: 25, DaysUntilStart: 1}},
		{"today", 2 * time.Hour, Refund{Amount: 0, Percent: 0, DaysUntilStart: 0}},
		{"past", -48 * time.Hour, Refund{Amount: 0, Percent: 0, DaysUntilStart: -2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateRefund(1000, now.Add(tt.in), now))
		})
	}
}

func TestCalculateRefundRounds(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(83), CalculateRefund(333, now.Add(48*time.Hour), now).Amount)
	assert.Equal(t, int64(167), CalculateRefund(333, now.Add(96*time.Hour), now).Amount)
}
