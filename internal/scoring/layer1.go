// Package scoring implements the deterministic Layer-1 pre-filter and the
// combined-score policy shared with Layer-2.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/prospector-io/prospector/models"
)

// questionPrefixes detect question-style titles for the quality dimension.
var questionPrefixes = []string{
	"how", "what", "why", "who", "when", "where", "which",
	"can", "should", "is", "are", "does", "do", "anyone",
	"looking for", "need", "recommend",
}

// Layer1 scores a post 0-100 across five capped dimensions. It is a pure
// function of (post, match, tier, now): same inputs always yield the same
// score and breakdown.
func Layer1(post models.Post, highest *models.Keyword, tier models.SubredditTier, now time.Time) (int, models.ScoreBreakdown) {
	var b models.ScoreBreakdown

	// Keyword match: 0-35 by highest-priority match.
	if highest != nil {
		switch highest.Weight {
		case models.WeightHigh:
			b.Keyword = 35
		case models.WeightCompetitor:
			b.Keyword = 30
		case models.WeightMedium:
			b.Keyword = 20
		case models.WeightLow:
			b.Keyword = 10
		}
	}

	// Subreddit tier: 0-20.
	switch tier {
	case models.TierHigh:
		b.Tier = 20
	case models.TierMedium:
		b.Tier = 12
	case models.TierLow:
		b.Tier = 5
	}

	// Freshness: 0-15, step function of post age.
	age := now.Sub(post.CreatedAt)
	switch {
	case age < 6*time.Hour:
		b.Freshness = 15
	case age < 12*time.Hour:
		b.Freshness = 12
	case age < 24*time.Hour:
		b.Freshness = 8
	case age < 48*time.Hour:
		b.Freshness = 4
	}

	// Engagement potential: 0-15, inverse of comment count. Rewards
	// first-mover timing on uncontested threads.
	switch {
	case post.NumComments == 0:
		b.Engagement = 15
	case post.NumComments <= 5:
		b.Engagement = 12
	case post.NumComments <= 20:
		b.Engagement = 8
	default:
		b.Engagement = 3
	}

	// Post quality: 0-15.
	if len(post.Body) > 100 {
		b.Quality += 10
	}
	if isQuestion(post.Title) {
		b.Quality += 5
	}

	score := b.Keyword + b.Tier + b.Freshness + b.Engagement + b.Quality
	if score > 100 {
		score = 100
	}
	return score, b
}

func isQuestion(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	if strings.HasSuffix(t, "?") {
		return true
	}
	for _, p := range questionPrefixes {
		if strings.HasPrefix(t, p+" ") || t == p {
			return true
		}
	}
	return false
}

// Combined blends the two layers: round(L1*0.3 + L2*0.7). Fixed business
// policy, Layer-2 dominates.
func Combined(layer1, layer2 int) int {
	return int(math.Round(float64(layer1)*0.3 + float64(layer2)*0.7))
}

// Priority maps a combined score onto the 1-10 decision queue priority.
func Priority(combined int) int {
	p := int(math.Ceil(float64(combined) / 10))
	if p > 10 {
		p = 10
	}
	if p < 1 {
		p = 1
	}
	return p
}

// RiskLevel classifies review risk from the combined score.
func RiskLevel(combined int) string {
	switch {
	case combined >= 70:
		return "low"
	case combined >= 50:
		return "medium"
	default:
		return "high"
	}
}
