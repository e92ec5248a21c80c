package score

import "testing"

func TestClamp(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, Min},
		{-3, Min},
		{1, 1},
		{5.5, 5.5},
		{10, 10},
		{42, Max},
	}
	for _, c := range cases {
		if got := Clamp(c.in); got != c.want {
			t.Errorf("Clamp(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSetAverage(t *testing.T) {
	s := Set{Clarity: 8, ProblemSolving: 6, Empathy: 7, Control: 5, Speed: 4}
	if got := s.Average(); got != 6.0 {
		t.Errorf("Average() = %v, want 6.0", got)
	}
}

func TestSetClamp(t *testing.T) {
	s := Set{Clarity: 0, ProblemSolving: 11, Empathy: 5, Control: -2, Speed: 10}.Clamp()
	want := Set{Clarity: 1, ProblemSolving: 10, Empathy: 5, Control: 1, Speed: 10}
	if s != want {
		t.Errorf("Clamp() = %+v, want %+v", s, want)
	}
}

func TestTierFor(t *testing.T) {
	cases := []struct {
		avg  float64
		want Tier
	}{
		{9.5, TierExpert},
		{9.0, TierExpert},
		{8.2, TierAdvanced},
		{7.0, TierIntermediate},
		{6.0, TierDeveloping},
		{5.9, TierBeginner},
		{1.0, TierBeginner},
	}
	for _, c := range cases {
		if got := TierFor(c.avg); got != c.want {
			t.Errorf("TierFor(%v) = %q, want %q", c.avg, got, c.want)
		}
	}
}

func TestCategorizePerformance(t *testing.T) {
	if got := CategorizePerformance(8.0); got != PerformanceOutstanding {
		t.Errorf("8.0 = %q, want Outstanding", got)
	}
	if got := CategorizePerformance(6.5); got != PerformanceSatisfactory {
		t.Errorf("6.5 = %q, want Satisfactory", got)
	}
	if got := CategorizePerformance(3.0); got != PerformanceNeedsWork {
		t.Errorf("3.0 = %q, want Needs Improvement", got)
	}
}

func TestNextMilestone(t *testing.T) {
	cases := []struct {
		calls, want int
	}{
		{0, 10},
		{9, 10},
		{10, 25},
		{60, 100},
		{200, 0},
		{500, 0},
	}
	for _, c := range cases {
		if got := NextMilestone(c.calls); got != c.want {
			t.Errorf("NextMilestone(%d) = %d, want %d", c.calls, got, c.want)
		}
	}
}

func TestNeutral(t *testing.T) {
	n := Neutral()
	if n.Average() != Midpoint {
		t.Errorf("Neutral().Average() = %v, want %v", n.Average(), Midpoint)
	}
}
