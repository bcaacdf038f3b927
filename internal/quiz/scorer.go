// Package quiz scores learner quiz submissions against a module's question
// set. Scoring is pure and deterministic; the only failure mode is an empty
// question set.
package quiz

import (
	"errors"
	"math"

	"github.com/proofoflearn/backend/internal/catalog"
)

// PassThreshold is the minimum percentage required to pass a quiz.
const PassThreshold = 70

// ErrNoQuestions is returned when a module has an empty quiz.
var ErrNoQuestions = errors.New("quiz has no questions")

// Submission maps question ordinal to the selected option index. It need not
// cover every question; missing answers count as incorrect.
type Submission map[int]int

// Result is the outcome of scoring one submission.
type Result struct {
	CorrectCount   int  `json:"correct_answers"`
	TotalQuestions int  `json:"total_questions"`
	Percentage     int  `json:"score"`
	Passed         bool `json:"passed"`
}

// Score grades a submission against the ordered question set. The percentage
// is round-half-up of correct/total*100, and passing requires PassThreshold.
func Score(questions []catalog.Question, sub Submission) (Result, error) {
	total := len(questions)
	if total == 0 {
		return Result{}, ErrNoQuestions
	}

	correct := 0
	for i, q := range questions {
		if selected, answered := sub[i]; answered && selected == q.Correct {
			correct++
		}
	}

	percentage := int(math.Round(float64(correct) / float64(total) * 100))

	return Result{
		CorrectCount:   correct,
		TotalQuestions: total,
		Percentage:     percentage,
		Passed:         percentage >= PassThreshold,
	}, nil
}
