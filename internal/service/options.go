package service

import (
	"errors"
	"fmt"
	"time"
)

// Store defaults. All of these are configuration, not constants baked into
// the algorithms; callers override them per store or per key.
const (
	DefaultNumericTolerance   = 0.0
	DefaultMaterialityFloor   = 0.2
	DefaultDecayHalfLife      = 2 * time.Hour
	DefaultDecayTTL           = 24 * time.Hour
	DefaultDecayInterval      = 60 * time.Second
	DefaultConsensusThreshold = 0.6
	DefaultContributionFloor  = 0.05
)

var ErrInvalidOptions = errors.New("invalid store options")

// Options is the full configuration surface of a belief store. Validation
// happens once, at construction, before any claim is accepted.
type Options struct {
	// Policy is the store-wide resolution policy; PolicyByKey overrides it
	// for individual keys.
	Policy      string
	PolicyByKey map[string]string

	Weights SalienceWeights

	NumericTolerance float64
	MaterialityFloor float64

	DecayHalfLife time.Duration
	HalfLifeByKey map[string]time.Duration
	DecayTTL      time.Duration
	DecayInterval time.Duration

	ConsensusThreshold float64
	ContributionFloor  float64

	// SupersedePerAgent keeps only an agent's latest claim per key active.
	SupersedePerAgent bool
}

// DefaultOptions returns a configuration that accepts claims out of the box.
func DefaultOptions() Options {
	return Options{
		Policy:             string(PolicyKeepAllEscalate),
		Weights:            DefaultSalienceWeights,
		NumericTolerance:   DefaultNumericTolerance,
		MaterialityFloor:   DefaultMaterialityFloor,
		DecayHalfLife:      DefaultDecayHalfLife,
		DecayTTL:           DefaultDecayTTL,
		DecayInterval:      DefaultDecayInterval,
		ConsensusThreshold: DefaultConsensusThreshold,
		ContributionFloor:  DefaultContributionFloor,
	}
}

func (o *Options) applyDefaults() {
	if o.Policy == "" {
		o.Policy = string(PolicyKeepAllEscalate)
	}
	zero := SalienceWeights{}
	if o.Weights == zero {
		o.Weights = DefaultSalienceWeights
	}
	if o.DecayHalfLife == 0 {
		o.DecayHalfLife = DefaultDecayHalfLife
	}
	if o.DecayTTL == 0 {
		o.DecayTTL = DefaultDecayTTL
	}
	if o.DecayInterval == 0 {
		o.DecayInterval = DefaultDecayInterval
	}
	if o.MaterialityFloor == 0 {
		o.MaterialityFloor = DefaultMaterialityFloor
	}
	if o.ConsensusThreshold == 0 {
		o.ConsensusThreshold = DefaultConsensusThreshold
	}
	if o.ContributionFloor == 0 {
		o.ContributionFloor = DefaultContributionFloor
	}
}

func (o *Options) validate() error {
	if _, err := ParsePolicy(o.Policy); err != nil {
		return err
	}
	for key, name := range o.PolicyByKey {
		if _, err := ParsePolicy(name); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	if err := o.Weights.Validate(); err != nil {
		return err
	}
	if o.NumericTolerance < 0 {
		return fmt.Errorf("%w: numeric tolerance must be >= 0", ErrInvalidOptions)
	}
	if o.MaterialityFloor < 0 || o.MaterialityFloor > 1 {
		return fmt.Errorf("%w: materiality floor must be in [0,1]", ErrInvalidOptions)
	}
	if o.DecayHalfLife <= 0 || o.DecayTTL <= 0 || o.DecayInterval <= 0 {
		return fmt.Errorf("%w: decay durations must be positive", ErrInvalidOptions)
	}
	for key, hl := range o.HalfLifeByKey {
		if hl <= 0 {
			return fmt.Errorf("%w: half-life for key %q must be positive", ErrInvalidOptions, key)
		}
	}
	if o.ConsensusThreshold <= 0 || o.ConsensusThreshold > 1 {
		return fmt.Errorf("%w: consensus threshold must be in (0,1]", ErrInvalidOptions)
	}
	if o.ContributionFloor < 0 || o.ContributionFloor > 1 {
		return fmt.Errorf("%w: contribution floor must be in [0,1]", ErrInvalidOptions)
	}
	return nil
}
