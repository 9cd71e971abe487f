package planloop

import "math"

// CharDeltaPct returns |len(curr)-len(prev)| / len(prev) * 100. A prev of
// length 0 is treated as a 0% delta (there is nothing to diverge from).
func CharDeltaPct(prev, curr string) float64 {
	pl := len([]rune(prev))
	if pl == 0 {
		return 0
	}
	cl := len([]rune(curr))
	return math.Abs(float64(cl)-float64(pl)) / float64(pl) * 100
}

// CheckConvergence implements spec §4.7 step 4 (testable property 12):
//   - ScopeRunaway if len(curr) > 1.4*len(prev) AND must-address items remain
//   - Stable if char_delta% < threshold AND no must-address items
//   - Continuing otherwise
func CheckConvergence(prev, curr string, critiques []CritiqueItem, thresholdPct float64) ConvergenceState {
	hasMustAddress := false
	for _, c := range critiques {
		if c.IsMustAddress() {
			hasMustAddress = true
			break
		}
	}

	pl := float64(len([]rune(prev)))
	cl := float64(len([]rune(curr)))
	if pl > 0 && cl > 1.4*pl && hasMustAddress {
		return ScopeRunaway
	}

	delta := CharDeltaPct(prev, curr)
	if delta < thresholdPct && !hasMustAddress {
		return Stable
	}
	return Continuing
}
