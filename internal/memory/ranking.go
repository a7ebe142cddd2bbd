package memory

import (
	"math"
	"sort"
	"time"

	"github.com/haasonsaas/recall/pkg/models"
)

// Weights configure the composite retrieval score. They must sum to 1
// within a 0.01 tolerance; config validation enforces that.
type Weights struct {
	Similarity float64
	Recency    float64
	Importance float64

	// HalfLife is the recency decay constant tau.
	HalfLife time.Duration
}

// DefaultWeights returns the standard 0.65/0.25/0.10 split with a 14-day
// decay constant.
func DefaultWeights() Weights {
	return Weights{
		Similarity: 0.65,
		Recency:    0.25,
		Importance: 0.10,
		HalfLife:   14 * 24 * time.Hour,
	}
}

// score computes the composite retrieval score for one candidate.
//
//	score = w_sim * similarity
//	      + w_rec * exp(-age/tau)
//	      + w_imp * (importance-1)/4
func (w Weights) score(similarity float32, createdAt time.Time, importance int, now time.Time) float64 {
	sim := float64(similarity)
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}

	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-age.Seconds() / w.HalfLife.Seconds())

	imp := float64(importance-models.MinImportance) / float64(models.MaxImportance-models.MinImportance)

	return w.Similarity*sim + w.Recency*recency + w.Importance*imp
}

// rank sorts candidates descending by score, breaking ties by similarity,
// then created_at descending, then id ascending.
func rank(candidates []*models.ScoredMemory) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Item.CreatedAt.Equal(b.Item.CreatedAt) {
			return a.Item.CreatedAt.After(b.Item.CreatedAt)
		}
		return a.Item.ID < b.Item.ID
	})
}
