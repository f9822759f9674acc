package timemodel

const (
	// ConsecutiveGapMinutes is the largest gap (exclusive) at which two lessons still count as back-to-back.
	ConsecutiveGapMinutes = 5
	// BreakGapMinutes is the smallest gap that counts as a proper break between lessons.
	BreakGapMinutes = 15
)

// Window is a weekly recurring interval [Start, End) on a day of week (0 = Sunday).
type Window struct {
	Day   int
	Start TimeOfDay
	End   TimeOfDay
}

// Overlaps reports whether two windows fall on the same day and intersect.
func Overlaps(a, b Window) bool {
	if a.Day != b.Day {
		return false
	}
	return a.Start < b.End && b.Start < a.End
}

// DurationMinutes returns the length of the window.
func DurationMinutes(w Window) int {
	return int(w.End - w.Start)
}

// GapMinutes returns later.Start - earlier.End. Negative when the windows overlap.
func GapMinutes(earlier, later Window) int {
	return int(later.Start - earlier.End)
}

// IsConsecutive reports whether later follows earlier with no real gap.
func IsConsecutive(earlier, later Window) bool {
	return GapMinutes(earlier, later) < ConsecutiveGapMinutes
}

// HasRequiredBreak reports whether the gap between the windows is long enough to count as a break.
func HasRequiredBreak(earlier, later Window) bool {
	return GapMinutes(earlier, later) >= BreakGapMinutes
}

// LongestConsecutiveRun returns the length of the longest chain of back-to-back windows.
// Windows must already be sorted by start time.
func LongestConsecutiveRun(sorted []Window) int {
	if len(sorted) == 0 {
		return 0
	}
	longest, current := 1, 1
	for i := 1; i < len(sorted); i++ {
		if IsConsecutive(sorted[i-1], sorted[i]) {
			current++
		} else {
			current = 1
		}
		if current > longest {
			longest = current
		}
	}
	return longest
}
