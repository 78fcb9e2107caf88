package heuristics

import "github.com/rawblock/wallet-investigator/pkg/models"

// classifyRisk maps a risk score to a risk level
func classifyRisk(score float64) models.RiskLevel {
	switch {
	case score <= 0.01:
		return models.RiskClean
	case score <= 0.10:
		return models.RiskLow
	case score <= 0.25:
		return models.RiskMedium
	case score <= 0.50:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}
