// Package reward computes the XP and sats awarded for a passing quiz score.
// Both formulas are linear bonuses anchored at the passing threshold: a
// borderline pass earns exactly the base award, a perfect score earns the
// maximum bonus. The calculator never touches cumulative totals; callers add
// the returned deltas to the user's account.
package reward

import (
	"fmt"

	"github.com/proofoflearn/backend/internal/quiz"
)

const (
	baseXP         = 100
	baseSats       = 1000
	xpPerPercent   = 2
	satsPerPercent = 50
)

// Reward is the XP and sats granted for one passing quiz.
type Reward struct {
	XP   int `json:"xp"`
	Sats int `json:"sats"`
}

// Compute returns the reward for a passing percentage. It is defined only on
// [PassThreshold, 100]; callers must gate on the scorer's Passed flag first.
func Compute(percentage int) (Reward, error) {
	if percentage < quiz.PassThreshold || percentage > 100 {
		return Reward{}, fmt.Errorf("percentage %d outside passing range [%d, 100]", percentage, quiz.PassThreshold)
	}

	bonus := percentage - quiz.PassThreshold
	return Reward{
		XP:   baseXP + bonus*xpPerPercent,
		Sats: baseSats + bonus*satsPerPercent,
	}, nil
}
