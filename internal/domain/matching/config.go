package matching

import (
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config tunes the systematic scorer. Every threshold is a parameter; none
// is baked into the engine.
type Config struct {
	AmountWeight    float64       `validate:"gte=0,lte=1"`
	DateWeight      float64       `validate:"gte=0,lte=1"`
	TextWeight      float64       `validate:"gte=0,lte=1"`
	HighThreshold   float64       `validate:"gt=0,lte=1,gtfield=MediumThreshold"`
	MediumThreshold float64       `validate:"gt=0,lte=1,gtefield=MinScore"`
	MinScore        float64       `validate:"gt=0,lte=1"`
	TopN            int           `validate:"gte=1,lte=100"`
	DateHalfLife    time.Duration `validate:"gt=0"`
	DateWindow      time.Duration `validate:"gt=0"`
	AmountTolerance float64       `validate:"gte=0,lt=1"`
}

func DefaultConfig() Config {
	return Config{
		AmountWeight:    0.60,
		DateWeight:      0.25,
		TextWeight:      0.15,
		HighThreshold:   0.85,
		MediumThreshold: 0.60,
		MinScore:        0.30,
		TopN:            5,
		DateHalfLife:    72 * time.Hour,
		DateWindow:      30 * 24 * time.Hour,
		AmountTolerance: 0.01,
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ranges, threshold ordering and that weights sum to 1.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if sum := c.AmountWeight + c.DateWeight + c.TextWeight; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: weights sum to %.4f, want 1", ErrInvalidConfig, sum)
	}
	return nil
}

func (c Config) weights() Weights {
	return Weights{Amount: c.AmountWeight, Date: c.DateWeight, Text: c.TextWeight}
}

// BucketFor maps a score to its band. ok is false below MinScore.
func (c Config) BucketFor(score float64) (b Bucket, ok bool) {
	switch {
	case score >= c.HighThreshold:
		return BucketHigh, true
	case score >= c.MediumThreshold:
		return BucketMedium, true
	case score >= c.MinScore:
		return BucketLow, true
	}
	return "", false
}
