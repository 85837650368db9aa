package imaging

import (
	"regexp"
	"strconv"
)

// progressStep is the percent interval at which ddrescue progress reaches the
// run log. The dashboard still sees every line.
const progressStep = 10

var rescuedPattern = regexp.MustCompile(`pct rescued:\s*([0-9]+(?:\.[0-9]+)?)%`)

// ParseRescuedPercent extracts the "pct rescued" figure from a ddrescue
// status line.
func ParseRescuedPercent(line string) (float64, bool) {
	match := rescuedPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// progressGate admits the first reading in each step-wide band so a phase
// logs at most 100/step+1 progress records. One gate serves one phase.
type progressGate struct {
	step float64
	next float64
}

func newProgressGate(step float64) *progressGate {
	if step <= 0 {
		step = progressStep
	}
	return &progressGate{step: step}
}

func (g *progressGate) pass(percent float64) bool {
	if percent < g.next {
		return false
	}
	if percent > 100 {
		percent = 100
	}
	g.next = (float64(int(percent/g.step)) + 1) * g.step
	return true
}
