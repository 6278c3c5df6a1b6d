package context

import "math"

// DecayCurve names a freshness decay shape.
type DecayCurve string

// Supported decay curves.
const (
	DecayLinear      DecayCurve = "linear"
	DecayExponential DecayCurve = "exponential"
	DecayStep        DecayCurve = "step"
)

const (
	defaultMaxAgeHours = 168.0
	defaultDecayRate   = 0.01
)

// Full weight under a day, half weight under a week, residual beyond.
var defaultStepThresholds = [2]float64{24, 168}

// FreshnessDecay maps segment age in hours to a multiplier in [0, 1].
//
//	linear       1 - age/maxAge, floored at 0
//	exponential  exp(-rate·age), never reaches 0
//	step         1.0 / 0.5 / 0.1 by threshold band
type FreshnessDecay struct {
	curve          DecayCurve
	maxAgeHours    float64
	decayRate      float64
	stepThresholds [2]float64
}

// FreshnessOption configures a FreshnessDecay.
type FreshnessOption func(*FreshnessDecay)

// WithCurve selects the decay curve. Default exponential.
func WithCurve(curve DecayCurve) FreshnessOption {
	return func(f *FreshnessDecay) { f.curve = curve }
}

// WithMaxAge sets the age at which the linear curve reaches 0. Default
// 168 hours.
func WithMaxAge(hours float64) FreshnessOption {
	return func(f *FreshnessDecay) { f.maxAgeHours = hours }
}

// WithDecayRate sets the exponential rate; higher decays faster. Default
// 0.01.
func WithDecayRate(rate float64) FreshnessOption {
	return func(f *FreshnessDecay) { f.decayRate = rate }
}

// WithStepThresholds sets the two step-curve band boundaries in hours.
// Default 24 and 168.
func WithStepThresholds(young, old float64) FreshnessOption {
	return func(f *FreshnessDecay) { f.stepThresholds = [2]float64{young, old} }
}

// NewFreshnessDecay returns an exponential decay with default tuning.
func NewFreshnessDecay(opts ...FreshnessOption) *FreshnessDecay {
	f := &FreshnessDecay{
		curve:          DecayExponential,
		maxAgeHours:    defaultMaxAgeHours,
		decayRate:      defaultDecayRate,
		stepThresholds: defaultStepThresholds,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Score returns the freshness multiplier for content aged ageHours.
// Negative ages count as fully fresh.
func (f *FreshnessDecay) Score(ageHours float64) float64 {
	age := math.Max(0, ageHours)
	switch f.curve {
	case DecayLinear:
		if f.maxAgeHours <= 0 {
			return 0
		}
		return math.Max(0, 1-age/f.maxAgeHours)
	case DecayStep:
		if age < f.stepThresholds[0] {
			return 1.0
		}
		if age < f.stepThresholds[1] {
			return 0.5
		}
		return 0.1
	default:
		return math.Exp(-f.decayRate * age)
	}
}
