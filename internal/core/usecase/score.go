package usecase

import (
	"math"

	"github.com/healthscoreai/healthscore/internal/core/domain"
)

// RecalculateScore derives the displayed score from the base score and the
// completion state of every suggestion and daily task. Each item is worth
// an equal share of the headroom between the base score and 100, so
// completing everything lands exactly on 100 and unchecking an item gives
// back exactly the share it earned.
//
// Rounding is half-away-from-zero (math.Round); all inputs are
// non-negative so ties round up.
//
// Documents without a valid base score cannot be recomputed safely, so the
// previously displayed score is returned unchanged.
func RecalculateScore(doc *domain.HealthDocument) int {
	if doc == nil {
		return 0
	}
	if doc.BaseScore == nil || *doc.BaseScore < 0 || *doc.BaseScore > 100 {
		return doc.DisplayScore
	}
	base := *doc.BaseScore

	completed, total := 0, 0
	for _, s := range doc.Suggestions {
		total++
		if s.Completed {
			completed++
		}
	}
	for _, day := range doc.DailyPlan {
		for _, task := range day.Tasks {
			total++
			if task.Completed {
				completed++
			}
		}
	}
	if total == 0 {
		return base
	}

	pointsPerItem := float64(100-base) / float64(total)
	raw := float64(base) + float64(completed)*pointsPerItem

	score := int(math.Round(raw))
	if score > 100 {
		score = 100
	}
	return score
}
