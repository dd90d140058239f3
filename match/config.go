package match

import (
	"fmt"
	"strings"
)

// HomographyModel selects the model fitted by EstimateHomography.
type HomographyModel int

const (
	// ModelAuto fits a projective homography when at least four pairs are
	// available and falls back to affine otherwise.
	ModelAuto HomographyModel = iota
	ModelAffine
	ModelProjective
)

func (m HomographyModel) String() string {
	switch m {
	case ModelAuto:
		return "auto"
	case ModelAffine:
		return "affine"
	case ModelProjective:
		return "projective"
	default:
		return fmt.Sprintf("HomographyModel(%d)", int(m))
	}
}

// MinPairs is the smallest pair count the model can be fitted from.
func (m HomographyModel) MinPairs() int {
	if m == ModelProjective {
		return 4
	}
	return 3
}

// MarshalText implements encoding.TextMarshaler.
func (m HomographyModel) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *HomographyModel) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "auto":
		*m = ModelAuto
	case "affine", "shift":
		*m = ModelAffine
	case "projective", "homography":
		*m = ModelProjective
	default:
		return fmt.Errorf("unknown homography model %q", string(text))
	}
	return nil
}

// MatchingParams controls triangle construction, voting and correspondence.
type MatchingParams struct {
	TriangleTolerance float64         `yaml:"triangleTolerance" json:"triangleTolerance"`
	MaxRatio          float64         `yaml:"maxRatio" json:"maxRatio"`       // skip triangles with b/a above this
	MatchRadius       float64         `yaml:"matchRadius" json:"matchRadius"` // in B's units
	MinVotes          int             `yaml:"minVotes" json:"minVotes"`
	Nobj              int             `yaml:"nobj" json:"nobj"` // brightest points used for triangles
	ScaleBounds       *Bounds         `yaml:"scaleBounds,omitempty" json:"scaleBounds,omitempty"`
	RotationBounds    *RotationWindow `yaml:"rotationBounds,omitempty" json:"rotationBounds,omitempty"`
	Order             Order           `yaml:"order" json:"order"`
}

// FitParams controls the iterative outlier rejector.
type FitParams struct {
	MaxIter         int     `yaml:"maxIter" json:"maxIter"`
	HaltSigma       float64 `yaml:"haltSigma" json:"haltSigma"`             // mean squared residual that stops iteration
	SigmaPercentile float64 `yaml:"sigmaPercentile" json:"sigmaPercentile"` // 0..1
	NSigma          float64 `yaml:"nsigma" json:"nsigma"`
}

// RetryPolicy controls how the initial estimator relaxes its search.
type RetryPolicy struct {
	NobjStep    int `yaml:"nobjStep" json:"nobjStep"`
	MaxAttempts int `yaml:"maxAttempts" json:"maxAttempts"`
}

// HomographyParams controls the final projective fit.
type HomographyParams struct {
	Model             HomographyModel `yaml:"model" json:"model"`
	SanityTolerance   float64         `yaml:"sanityTolerance" json:"sanityTolerance"`
	MinInlierFraction float64         `yaml:"minInlierFraction" json:"minInlierFraction"`
}

// SolveParams controls the plate-solve convergence loop.
type SolveParams struct {
	MaxTrials            int     `yaml:"maxTrials" json:"maxTrials"`
	ConvergenceTolerance float64 `yaml:"convergenceTolerance" json:"convergenceTolerance"`
}

// Params bundles everything one pipeline invocation reads. It is passed by
// value and never mutated, so concurrent matches may share it.
type Params struct {
	Matching   MatchingParams   `yaml:"matching" json:"matching"`
	Fit        FitParams        `yaml:"fit" json:"fit"`
	Retry      RetryPolicy      `yaml:"retry" json:"retry"`
	Homography HomographyParams `yaml:"homography" json:"homography"`
	Solve      SolveParams      `yaml:"solve" json:"solve"`
}

// DefaultParams returns the stock tolerances.
func DefaultParams() Params {
	return Params{
		Matching: MatchingParams{
			TriangleTolerance: 0.002,
			MaxRatio:          0.9,
			MatchRadius:       5.0,
			MinVotes:          2,
			Nobj:              20,
			Order:             Linear,
		},
		Fit: FitParams{
			MaxIter:         3,
			HaltSigma:       1.0,
			SigmaPercentile: 0.35,
			NSigma:          10.0,
		},
		Retry: RetryPolicy{
			NobjStep:    50,
			MaxAttempts: 4,
		},
		Homography: HomographyParams{
			Model:             ModelAuto,
			SanityTolerance:   0.3,
			MinInlierFraction: 0.5,
		},
		Solve: SolveParams{
			MaxTrials:            20,
			ConvergenceTolerance: 1e-8,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultParams. Optional windows
// (scale, rotation) and an explicit zero MaxTrials are left alone.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.Matching.TriangleTolerance <= 0 {
		p.Matching.TriangleTolerance = d.Matching.TriangleTolerance
	}
	if p.Matching.MaxRatio <= 0 {
		p.Matching.MaxRatio = d.Matching.MaxRatio
	}
	if p.Matching.MatchRadius <= 0 {
		p.Matching.MatchRadius = d.Matching.MatchRadius
	}
	if p.Matching.MinVotes <= 0 {
		p.Matching.MinVotes = d.Matching.MinVotes
	}
	if p.Matching.Nobj <= 0 {
		p.Matching.Nobj = d.Matching.Nobj
	}
	if p.Matching.Order == 0 {
		p.Matching.Order = d.Matching.Order
	}
	if p.Fit.MaxIter <= 0 {
		p.Fit.MaxIter = d.Fit.MaxIter
	}
	if p.Fit.HaltSigma <= 0 {
		p.Fit.HaltSigma = d.Fit.HaltSigma
	}
	if p.Fit.SigmaPercentile <= 0 {
		p.Fit.SigmaPercentile = d.Fit.SigmaPercentile
	}
	if p.Fit.NSigma <= 0 {
		p.Fit.NSigma = d.Fit.NSigma
	}
	if p.Retry.NobjStep <= 0 {
		p.Retry.NobjStep = d.Retry.NobjStep
	}
	if p.Retry.MaxAttempts <= 0 {
		p.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if p.Homography.SanityTolerance <= 0 {
		p.Homography.SanityTolerance = d.Homography.SanityTolerance
	}
	if p.Homography.MinInlierFraction <= 0 {
		p.Homography.MinInlierFraction = d.Homography.MinInlierFraction
	}
	if p.Solve.MaxTrials < 0 {
		p.Solve.MaxTrials = d.Solve.MaxTrials
	}
	if p.Solve.ConvergenceTolerance <= 0 {
		p.Solve.ConvergenceTolerance = d.Solve.ConvergenceTolerance
	}
	return p
}

// Validate rejects parameter combinations the pipeline cannot run with.
func (p Params) Validate() error {
	if p.Matching.Order.Terms() == 0 {
		return fmt.Errorf("matching.order: invalid value %d", int(p.Matching.Order))
	}
	if p.Matching.MaxRatio > 1 {
		return fmt.Errorf("matching.maxRatio must be <= 1, got %g", p.Matching.MaxRatio)
	}
	if sb := p.Matching.ScaleBounds; sb != nil && (sb.Min <= 0 || sb.Max < sb.Min) {
		return fmt.Errorf("matching.scaleBounds: invalid range [%g, %g]", sb.Min, sb.Max)
	}
	if rb := p.Matching.RotationBounds; rb != nil && rb.Tolerance < 0 {
		return fmt.Errorf("matching.rotationBounds.tolerance must be >= 0, got %g", rb.Tolerance)
	}
	if p.Fit.SigmaPercentile > 1 {
		return fmt.Errorf("fit.sigmaPercentile must be within (0, 1], got %g", p.Fit.SigmaPercentile)
	}
	return nil
}

// Config is the full configuration file.
type Config struct {
	Params   `yaml:",inline"`
	Sequence SequenceConfig `yaml:"sequence" json:"sequence"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// SequenceConfig controls frame-level parallelism.
type SequenceConfig struct {
	Workers int `yaml:"workers" json:"workers"`
}

// MQTTConfig holds MQTT connection settings for the diagnostics publisher.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// StorageConfig locates the run-history database and the registration cache.
type StorageConfig struct {
	Database         string `yaml:"database,omitempty" json:"database,omitempty"`
	RegistrationFile string `yaml:"registrationFile,omitempty" json:"registrationFile,omitempty"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text, json
}

// DefaultConfig returns a configuration usable without a file on disk.
func DefaultConfig() *Config {
	return &Config{
		Params:   DefaultParams(),
		Sequence: SequenceConfig{Workers: 4},
		MQTT:     MQTTConfig{PublishPrefix: "starmesh", ClientID: "starmesh"},
		Storage:  StorageConfig{RegistrationFile: DefaultRegistrationCachePath},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}
