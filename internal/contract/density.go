package contract

import (
	"fmt"
	"math"
)

// DensityKind tags the variant of a density envelope.
type DensityKind string

const (
	DensityMixture    DensityKind = "mixture"
	DensityBuiltin    DensityKind = "builtin"
	DensityStatistics DensityKind = "statistics"
	DensityScipy      DensityKind = "scipy"
)

const (
	maxDensityDepth   = 4
	maxMixtureMembers = 16
)

// Density is a parsed probability-density envelope from an inference output.
// Leaf kinds name a distribution with numeric parameters; a mixture nests
// weighted member densities.
type Density struct {
	Kind   DensityKind
	Name   string
	Params map[string]float64

	Members []WeightedDensity
}

// WeightedDensity is one mixture member.
type WeightedDensity struct {
	Weight  float64
	Density Density
}

// ParseDensity validates and parses a density envelope. Unknown kinds,
// non-finite or non-positive weights, nesting deeper than maxDensityDepth and
// mixtures wider than maxMixtureMembers are rejected.
func ParseDensity(v any) (*Density, error) {
	d, err := parseDensity(v, 1)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseDensity(v any, depth int) (Density, error) {
	if depth > maxDensityDepth {
		return Density{}, fmt.Errorf("density nesting exceeds depth %d", maxDensityDepth)
	}
	envelope, ok := v.(map[string]any)
	if !ok {
		return Density{}, fmt.Errorf("density is not an object")
	}
	kind, ok := envelope["kind"].(string)
	if !ok {
		return Density{}, fmt.Errorf("density missing kind")
	}

	switch DensityKind(kind) {
	case DensityMixture:
		return parseMixture(envelope, depth)
	case DensityBuiltin, DensityStatistics, DensityScipy:
		return parseLeaf(DensityKind(kind), envelope)
	default:
		return Density{}, fmt.Errorf("unknown density kind %q", kind)
	}
}

func parseMixture(envelope map[string]any, depth int) (Density, error) {
	raw, ok := envelope["members"].([]any)
	if !ok || len(raw) == 0 {
		return Density{}, fmt.Errorf("mixture density has no members")
	}
	if len(raw) > maxMixtureMembers {
		return Density{}, fmt.Errorf("mixture has %d members, limit is %d", len(raw), maxMixtureMembers)
	}

	d := Density{Kind: DensityMixture}
	weightSum := 0.0
	for i, m := range raw {
		member, ok := m.(map[string]any)
		if !ok {
			return Density{}, fmt.Errorf("mixture member %d is not an object", i)
		}
		weight, ok := Float(member, "weight")
		if !ok || !(weight > 0) || math.IsInf(weight, 0) {
			return Density{}, fmt.Errorf("mixture member %d has invalid weight", i)
		}
		inner, err := parseDensity(member["density"], depth+1)
		if err != nil {
			return Density{}, fmt.Errorf("mixture member %d: %w", i, err)
		}
		d.Members = append(d.Members, WeightedDensity{Weight: weight, Density: inner})
		weightSum += weight
	}
	if math.Abs(weightSum-1) > 1e-6 {
		return Density{}, fmt.Errorf("mixture weights sum to %g, expected 1", weightSum)
	}
	return d, nil
}

func parseLeaf(kind DensityKind, envelope map[string]any) (Density, error) {
	name, ok := envelope["name"].(string)
	if !ok || name == "" {
		return Density{}, fmt.Errorf("%s density missing name", kind)
	}

	d := Density{Kind: kind, Name: name, Params: map[string]float64{}}
	if rawParams, ok := envelope["params"].(map[string]any); ok {
		for key := range rawParams {
			v, ok := Float(rawParams, key)
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				return Density{}, fmt.Errorf("%s density param %q is not a finite number", kind, key)
			}
			d.Params[key] = v
		}
	}
	return d, nil
}

// DensityValidateOutput is an OutputValidator for density challenges: the
// output must carry a well-formed "density" envelope.
func DensityValidateOutput(output map[string]any) error {
	if output == nil {
		return fmt.Errorf("inference output is empty")
	}
	if _, err := ParseDensity(output["density"]); err != nil {
		return fmt.Errorf("invalid density: %w", err)
	}
	return nil
}
