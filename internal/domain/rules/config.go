package rules

import (
	"fmt"
	"os"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"gopkg.in/yaml.v3"
)

// PenaltyRule is the penalty model for one finding category:
// base + net × rate, capped by Config.PenaltyCap.
type PenaltyRule struct {
	Base float64 `yaml:"base"`
	Rate float64 `yaml:"rate"`
}

// Config holds the tunable parts of the rule catalog
type Config struct {
	RoundingTolerance float64                                `yaml:"rounding_tolerance"`
	PenaltyCap        float64                                `yaml:"penalty_cap"`
	Penalties         map[entity.FindingCategory]PenaltyRule `yaml:"penalties"`

	// Rates maps country code -> product category -> VAT rate in percent
	Rates map[string]map[string]float64 `yaml:"rates"`
}

// DefaultConfig returns the built-in catalog settings
func DefaultConfig() *Config {
	return &Config{
		RoundingTolerance: 0.01,
		PenaltyCap:        10000,
		Penalties: map[entity.FindingCategory]PenaltyRule{
			entity.CategoryMissingVATID:           {Base: 250, Rate: 0.05},
			entity.CategoryReverseChargeMismatch:  {Base: 150, Rate: 0.10},
			entity.CategoryRoundingMismatch:       {Base: 25, Rate: 0},
			entity.CategoryInvalidRateForCategory: {Base: 100, Rate: 0.10},
			entity.CategoryInvalidVATIDFormat:     {Base: 50, Rate: 0},
		},
		Rates: map[string]map[string]float64{
			"DE": {entity.ProductStandard: 19, entity.ProductReduced: 7, entity.ProductFood: 7, entity.ProductBooks: 7, entity.ProductMedical: 19, entity.ProductDigitalServices: 19},
			"AT": {entity.ProductStandard: 20, entity.ProductReduced: 10, entity.ProductFood: 10, entity.ProductBooks: 10, entity.ProductMedical: 10, entity.ProductDigitalServices: 20},
			"FR": {entity.ProductStandard: 20, entity.ProductReduced: 10, entity.ProductFood: 5.5, entity.ProductBooks: 5.5, entity.ProductMedical: 2.1, entity.ProductDigitalServices: 20},
			"NL": {entity.ProductStandard: 21, entity.ProductReduced: 9, entity.ProductFood: 9, entity.ProductBooks: 9, entity.ProductMedical: 9, entity.ProductDigitalServices: 21},
			"IT": {entity.ProductStandard: 22, entity.ProductReduced: 10, entity.ProductFood: 4, entity.ProductBooks: 4, entity.ProductMedical: 10, entity.ProductDigitalServices: 22},
			"ES": {entity.ProductStandard: 21, entity.ProductReduced: 10, entity.ProductFood: 4, entity.ProductBooks: 4, entity.ProductMedical: 4, entity.ProductDigitalServices: 21},
		},
	}
}

// LoadConfig reads overrides from a YAML file on top of DefaultConfig.
// Countries listed in the file replace the built-in rate row entirely.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule config: %w", err)
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule config: %w", err)
	}

	cfg := DefaultConfig()
	if override.RoundingTolerance > 0 {
		cfg.RoundingTolerance = override.RoundingTolerance
	}
	if override.PenaltyCap > 0 {
		cfg.PenaltyCap = override.PenaltyCap
	}
	for category, p := range override.Penalties {
		cfg.Penalties[category] = p
	}
	for country, rates := range override.Rates {
		cfg.Rates[country] = rates
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.RoundingTolerance < 0 {
		return fmt.Errorf("rounding_tolerance must not be negative")
	}
	if c.PenaltyCap <= 0 {
		return fmt.Errorf("penalty_cap must be positive")
	}
	for category, p := range c.Penalties {
		if p.Base < 0 || p.Rate < 0 {
			return fmt.Errorf("penalty for %s must not be negative", category)
		}
	}
	for country, rates := range c.Rates {
		if _, ok := rates[entity.ProductStandard]; !ok {
			return fmt.Errorf("rates for %s must include %q", country, entity.ProductStandard)
		}
	}
	return nil
}
