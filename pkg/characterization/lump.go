package characterization

import (
	"github.com/openfroyo/procsim/pkg/thermo"
)

// lump groups consecutive cuts into n pseudo-components of roughly equal
// mass. Critical properties of a group are mass-weighted averages of its
// members; the relative density is the volume-additive mixture density.
// Cuts are returned unchanged when n is zero or not below their count.
func lump(cuts []thermo.PseudoComponent, n int) ([]thermo.PseudoComponent, error) {
	if n <= 0 || n >= len(cuts) {
		return cuts, nil
	}

	var total float64
	for _, c := range cuts {
		total += c.Moles * c.MolarMass
	}

	groups := make([][]thermo.PseudoComponent, 0, n)
	var current []thermo.PseudoComponent
	var cumulative float64
	for i, c := range cuts {
		current = append(current, c)
		cumulative += c.Moles * c.MolarMass
		remainingCuts := len(cuts) - i - 1
		remainingGroups := n - len(groups) - 1
		boundary := total * float64(len(groups)+1) / float64(n)
		if remainingGroups > 0 && (cumulative >= boundary || remainingCuts == remainingGroups) {
			groups = append(groups, current)
			current = nil
		}
	}
	groups = append(groups, current)

	lumps := make([]thermo.PseudoComponent, 0, len(groups))
	for _, g := range groups {
		l, err := combine(g)
		if err != nil {
			return nil, err
		}
		lumps = append(lumps, l)
	}
	return lumps, nil
}

func combine(group []thermo.PseudoComponent) (thermo.PseudoComponent, error) {
	if len(group) == 1 {
		return group[0], nil
	}
	var moles, mass, volume, tc, pc, omega float64
	for _, c := range group {
		est, err := thermo.EstimateCritical(c.MolarMass, c.RelativeDensity, c.BoilingPoint)
		if err != nil {
			return thermo.PseudoComponent{}, err
		}
		w := c.Moles * c.MolarMass
		moles += c.Moles
		mass += w
		volume += w / c.RelativeDensity
		tc += w * est.CriticalTemp
		pc += w * est.CriticalPress
		omega += w * est.Acentric
	}
	out := thermo.PseudoComponent{
		Name:            group[0].Name + "-" + group[len(group)-1].Name,
		Moles:           moles,
		RelativeDensity: group[0].RelativeDensity,
	}
	if mass == 0 {
		// an empty group still needs usable properties
		out.MolarMass = group[0].MolarMass
		return out, nil
	}
	out.MolarMass = mass / moles
	out.RelativeDensity = mass / volume
	out.CriticalTemp = tc / mass
	out.CriticalPress = pc / mass
	out.Acentric = omega / mass
	return out, nil
}
