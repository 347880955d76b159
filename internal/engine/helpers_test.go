package engine

import "github.com/fyrsmithlabs/popguard/internal/scoring"

func newHighScore() scoring.Result {
	return scoring.Result{Value: 0.9, Tier: scoring.TierHigh}
}
