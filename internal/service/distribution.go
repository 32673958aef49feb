package service

import (
	"reservation-service/internal/models"
	"reservation-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DistributionSettings are the owner/platform/agent percentages of a reservation total.
type DistributionSettings struct {
	OwnerPercent    float64
	PlatformPercent float64
	AgentPercent    float64
}

// DefaultDistributionSettings returns the 70/25/5 split.
func DefaultDistributionSettings() DistributionSettings {
	return DistributionSettings{OwnerPercent: 70, PlatformPercent: 25, AgentPercent: 5}
}

var (
	hundred          = decimal.NewFromInt(100)
	percentTolerance = decimal.NewFromFloat(0.01)
)

// CalculateIncomeDistribution splits total into owner, platform and agent shares.
// Shares are rounded half-up independently, so CalculatedTotal may differ
// from total by up to two units.
func CalculateIncomeDistribution(total int64, settings DistributionSettings) models.Distribution {
	sum := decimal.NewFromFloat(settings.OwnerPercent).
		Add(decimal.NewFromFloat(settings.PlatformPercent)).
		Add(decimal.NewFromFloat(settings.AgentPercent))
	if sum.Sub(hundred).Abs().GreaterThan(percentTolerance) {
		util.GetLogger().Warn("Distribution percentages do not sum to 100",
			zap.Float64("owner_percent", settings.OwnerPercent),
			zap.Float64("platform_percent", settings.PlatformPercent),
			zap.Float64("agent_percent", settings.AgentPercent),
			zap.String("sum", sum.String()))
	}

	d := models.Distribution{
		TotalAmount:     total,
		OwnerPayout:     percentOf(total, settings.OwnerPercent),
		PlatformFee:     percentOf(total, settings.PlatformPercent),
		AgentFee:        percentOf(total, settings.AgentPercent),
		OwnerPercent:    settings.OwnerPercent,
		PlatformPercent: settings.PlatformPercent,
		AgentPercent:    settings.AgentPercent,
	}
	d.CalculatedTotal = d.OwnerPayout + d.PlatformFee + d.AgentFee
	return d
}

// percentOf returns round(amount * percent / 100), halves rounded away from zero.
func percentOf(amount int64, percent float64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(percent)).
		Div(hundred).
		Round(0).
		IntPart()
}
