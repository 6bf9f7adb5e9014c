package matching

import (
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"weights must sum to one", func(c *Config) { c.TextWeight = 0.5 }, true},
		{"high above medium", func(c *Config) { c.HighThreshold = 0.5 }, true},
		{"medium not below floor", func(c *Config) { c.MinScore = 0.7 }, true},
		{"topN at least one", func(c *Config) { c.TopN = 0 }, true},
		{"half-life positive", func(c *Config) { c.DateHalfLife = 0 }, true},
		{"tolerance below one", func(c *Config) { c.AmountTolerance = 1 }, true},
		{"zero tolerance allowed", func(c *Config) { c.AmountTolerance = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_BucketFor(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		score  float64
		want   Bucket
		wantOK bool
	}{
		{1.0, BucketHigh, true},
		{0.85, BucketHigh, true},
		{0.8499, BucketMedium, true},
		{0.60, BucketMedium, true},
		{0.30, BucketLow, true},
		{0.2999, "", false},
	}
	for _, tt := range tests {
		got, ok := cfg.BucketFor(tt.score)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("BucketFor(%v) = %q, %v; want %q, %v", tt.score, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestTextSimilarity(t *testing.T) {
	if got := textSimilarity("EFT INV-1042 ACME", "inv-1042"); got != 1 {
		t.Errorf("containment = %v, want 1", got)
	}
	if got := textSimilarity("ACME PAYMENT", "ACME LTD"); got < 0.33 || got > 0.34 {
		t.Errorf("jaccard = %v, want 1/3", got)
	}
	if got := textSimilarity("anything", ""); got != 0 {
		t.Errorf("empty needle = %v, want 0", got)
	}
}
