// Package score defines the canonical scoring scale and derived skill
// classifications used across automated evaluation, human review and
// analytics.
package score

// Scores range over a 1 to 10 scale. Automated evaluators and human
// reviewers both produce values on this scale so that aggregates mix
// cleanly.
const (
	Min      = 1.0
	Max      = 10.0
	Midpoint = 5.0
)

// Category names match the JSON keys emitted by the evaluator and stored
// in feedback records.
const (
	CategoryClarity        = "clarity"
	CategoryProblemSolving = "problemSolving"
	CategoryEmpathy        = "empathy"
	CategoryControl        = "control"
	CategorySpeed          = "speed"
)

// Categories lists every scored category in display order.
var Categories = []string{
	CategoryClarity,
	CategoryProblemSolving,
	CategoryEmpathy,
	CategoryControl,
	CategorySpeed,
}

// Clamp forces v into the valid score range.
func Clamp(v float64) float64 {
	if v < Min {
		return Min
	}
	if v > Max {
		return Max
	}
	return v
}

// Set holds one score per category.
type Set struct {
	Clarity        float64 `json:"clarity"`
	ProblemSolving float64 `json:"problemSolving"`
	Empathy        float64 `json:"empathy"`
	Control        float64 `json:"control"`
	Speed          float64 `json:"speed"`
}

// Clamp returns a copy of s with every category forced into range.
func (s Set) Clamp() Set {
	return Set{
		Clarity:        Clamp(s.Clarity),
		ProblemSolving: Clamp(s.ProblemSolving),
		Empathy:        Clamp(s.Empathy),
		Control:        Clamp(s.Control),
		Speed:          Clamp(s.Speed),
	}
}

// Average returns the mean across all categories.
func (s Set) Average() float64 {
	return (s.Clarity + s.ProblemSolving + s.Empathy + s.Control + s.Speed) / float64(len(Categories))
}

// Neutral returns a set with every category at the scale midpoint. It is
// the stand-in when an evaluator response omits a category.
func Neutral() Set {
	return Set{
		Clarity:        Midpoint,
		ProblemSolving: Midpoint,
		Empathy:        Midpoint,
		Control:        Midpoint,
		Speed:          Midpoint,
	}
}

// Tier is a coarse skill level derived from a trainee's average score.
type Tier string

const (
	TierExpert       Tier = "Expert"
	TierAdvanced     Tier = "Advanced"
	TierIntermediate Tier = "Intermediate"
	TierDeveloping   Tier = "Developing"
	TierBeginner     Tier = "Beginner"
)

// TierFor maps an average score to a skill tier.
func TierFor(avg float64) Tier {
	switch {
	case avg >= 9.0:
		return TierExpert
	case avg >= 8.0:
		return TierAdvanced
	case avg >= 7.0:
		return TierIntermediate
	case avg >= 6.0:
		return TierDeveloping
	default:
		return TierBeginner
	}
}

// Performance is a per-category verdict shown alongside the raw number.
type Performance string

const (
	PerformanceOutstanding  Performance = "Outstanding"
	PerformanceSatisfactory Performance = "Satisfactory"
	PerformanceNeedsWork    Performance = "Needs Improvement"
)

// CategorizePerformance maps a single category score to a verdict.
func CategorizePerformance(v float64) Performance {
	switch {
	case v >= 8.0:
		return PerformanceOutstanding
	case v >= 6.0:
		return PerformanceSatisfactory
	default:
		return PerformanceNeedsWork
	}
}

// Milestones are cumulative call counts that mark training progress.
var Milestones = []int{10, 25, 50, 100, 200}

// NextMilestone returns the first milestone above the given call count,
// or 0 when all milestones are passed.
func NextMilestone(calls int) int {
	for _, m := range Milestones {
		if calls < m {
			return m
		}
	}
	return 0
}
