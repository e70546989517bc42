package process

import (
	"fmt"
	"sort"

	"github.com/openfroyo/procsim/pkg/faults"
)

// CurvePoint is one operating point of a speed line.
type CurvePoint struct {
	Flow       float64 `json:"flow" yaml:"flow"`             // actual inlet volume flow, m3/h
	Head       float64 `json:"head" yaml:"head"`             // isentropic head, kJ/kg
	Efficiency float64 `json:"efficiency" yaml:"efficiency"` // isentropic efficiency, fraction
}

// SpeedLine is the head and efficiency characteristic at one speed.
type SpeedLine struct {
	Speed  float64      `json:"speed" yaml:"speed"` // rpm
	Points []CurvePoint `json:"points" yaml:"points"`
}

// PerformanceCurve is a speed-flow-head-efficiency table interpolated
// linearly in flow along each speed line and then between speed lines.
type PerformanceCurve struct {
	lines []SpeedLine
}

// NewPerformanceCurve validates and sorts the speed lines.
func NewPerformanceCurve(lines []SpeedLine) (*PerformanceCurve, error) {
	if len(lines) == 0 {
		return nil, curveError("performance curve needs at least one speed line")
	}
	sorted := make([]SpeedLine, len(lines))
	for i, l := range lines {
		if len(l.Points) < 2 {
			return nil, curveError(fmt.Sprintf("speed line %g needs at least two points", l.Speed))
		}
		pts := append([]CurvePoint(nil), l.Points...)
		sort.Slice(pts, func(a, b int) bool { return pts[a].Flow < pts[b].Flow })
		for j, p := range pts {
			if p.Efficiency <= 0 || p.Efficiency > 1 {
				return nil, curveError(fmt.Sprintf("speed line %g: efficiency %g outside (0, 1]", l.Speed, p.Efficiency))
			}
			if j > 0 && p.Flow == pts[j-1].Flow {
				return nil, curveError(fmt.Sprintf("speed line %g: duplicate flow %g", l.Speed, p.Flow))
			}
		}
		sorted[i] = SpeedLine{Speed: l.Speed, Points: pts}
	}
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Speed < sorted[b].Speed })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Speed == sorted[i-1].Speed {
			return nil, curveError(fmt.Sprintf("duplicate speed line %g", sorted[i].Speed))
		}
	}
	return &PerformanceCurve{lines: sorted}, nil
}

func curveError(msg string) error {
	return faults.NewConfigurationError(msg, nil).WithCode(faults.ErrCodeInvalidParameter)
}

// Lines returns a copy of the speed lines.
func (c *PerformanceCurve) Lines() []SpeedLine {
	out := make([]SpeedLine, len(c.lines))
	for i, l := range c.lines {
		out[i] = SpeedLine{Speed: l.Speed, Points: append([]CurvePoint(nil), l.Points...)}
	}
	return out
}

// At interpolates head and efficiency. inRange is false when flow or speed
// had to be clamped to the table.
func (c *PerformanceCurve) At(speed, flow float64) (head, efficiency float64, inRange bool) {
	lines := c.lines
	if len(lines) == 1 || speed <= lines[0].Speed {
		h, e, ok := lines[0].at(flow)
		return h, e, ok && (len(lines) == 1 || speed == lines[0].Speed)
	}
	last := lines[len(lines)-1]
	if speed >= last.Speed {
		h, e, ok := last.at(flow)
		return h, e, ok && speed == last.Speed
	}
	i := sort.Search(len(lines), func(i int) bool { return lines[i].Speed >= speed })
	lo, hi := lines[i-1], lines[i]
	w := (speed - lo.Speed) / (hi.Speed - lo.Speed)
	h1, e1, ok1 := lo.at(flow)
	h2, e2, ok2 := hi.at(flow)
	return h1 + w*(h2-h1), e1 + w*(e2-e1), ok1 && ok2
}

func (l SpeedLine) at(flow float64) (head, efficiency float64, inRange bool) {
	pts := l.Points
	if flow <= pts[0].Flow {
		return pts[0].Head, pts[0].Efficiency, flow == pts[0].Flow
	}
	n := len(pts) - 1
	if flow >= pts[n].Flow {
		return pts[n].Head, pts[n].Efficiency, flow == pts[n].Flow
	}
	j := sort.Search(len(pts), func(i int) bool { return pts[i].Flow >= flow })
	a, b := pts[j-1], pts[j]
	w := (flow - a.Flow) / (b.Flow - a.Flow)
	return a.Head + w*(b.Head-a.Head), a.Efficiency + w*(b.Efficiency-a.Efficiency), true
}
