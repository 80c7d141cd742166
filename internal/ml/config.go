package ml

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"lottery-engine/internal/features"
	"lottery-engine/internal/lottery"
)

// AlgorithmConfig is a loosely validated bag of settings. Missing or
// malformed keys fall back to the model defaults.
type AlgorithmConfig struct {
	Variant         lottery.Variant `json:"lottery_type"`
	Parameters      map[string]any  `json:"parameters,omitempty"`
	Hyperparameters map[string]any  `json:"hyperparameters,omitempty"`
	FeatureConfig   map[string]any  `json:"feature_config,omitempty"`
}

// NewAlgorithmConfig returns an empty configuration for v.
func NewAlgorithmConfig(v lottery.Variant) AlgorithmConfig {
	return AlgorithmConfig{
		Variant:         v,
		Parameters:      map[string]any{},
		Hyperparameters: map[string]any{},
		FeatureConfig:   map[string]any{},
	}
}

// With returns a copy with key set in Parameters.
func (c AlgorithmConfig) With(key string, value any) AlgorithmConfig {
	params := make(map[string]any, len(c.Parameters)+1)
	for k, v := range c.Parameters {
		params[k] = v
	}
	params[key] = value
	c.Parameters = params
	return c
}

// Member returns the configuration for an ensemble member: the variant and
// feature settings carry over and the parameters come from the nested map
// stored under name, if any.
func (c AlgorithmConfig) Member(name string) AlgorithmConfig {
	out := AlgorithmConfig{
		Variant:         c.Variant,
		Parameters:      map[string]any{},
		Hyperparameters: map[string]any{},
		FeatureConfig:   c.FeatureConfig,
	}
	if nested, ok := c.lookup(name); ok {
		if m, ok := nested.(map[string]any); ok {
			for k, v := range m {
				out.Parameters[k] = v
			}
		}
	}
	return out
}

func (c AlgorithmConfig) lookup(key string) (any, bool) {
	if v, ok := c.Parameters[key]; ok {
		return v, true
	}
	if v, ok := c.Hyperparameters[key]; ok {
		return v, true
	}
	return nil, false
}

// Float reads a numeric setting.
func (c AlgorithmConfig) Float(key string, def float64) float64 {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return def
}

// Int reads an integer setting.
func (c AlgorithmConfig) Int(key string, def int) int {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	if f, ok := toFloat(v); ok {
		return int(f)
	}
	return def
}

// Bool reads a boolean setting.
func (c AlgorithmConfig) Bool(key string, def bool) bool {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}

// String reads a string setting.
func (c AlgorithmConfig) String(key, def string) string {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// Ints reads a list of integers, such as hidden layer widths.
func (c AlgorithmConfig) Ints(key string, def []int) []int {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	switch xs := v.(type) {
	case []int:
		return append([]int(nil), xs...)
	case []any:
		out := make([]int, 0, len(xs))
		for _, x := range xs {
			f, ok := toFloat(x)
			if !ok {
				return def
			}
			out = append(out, int(f))
		}
		return out
	case []float64:
		out := make([]int, len(xs))
		for i, x := range xs {
			out[i] = int(x)
		}
		return out
	case string:
		var out []int
		for _, part := range strings.Split(xs, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return def
			}
			out = append(out, n)
		}
		return out
	}
	return def
}

// Features returns the feature extraction settings, defaulting every group on.
func (c AlgorithmConfig) Features() features.Config {
	fc := features.DefaultConfig()
	get := func(key string, def bool) bool {
		if v, ok := c.FeatureConfig[key].(bool); ok {
			return v
		}
		return def
	}
	fc.EnableFrequency = get("enable_frequency_analysis", fc.EnableFrequency)
	fc.EnableTrend = get("enable_trend_analysis", fc.EnableTrend)
	fc.EnableStatistical = get("enable_statistical_analysis", fc.EnableStatistical)
	fc.EnablePattern = get("enable_pattern_analysis", fc.EnablePattern)
	fc.EnableTemporal = get("enable_temporal_analysis", fc.EnableTemporal)
	fc.IncludeSpecial = get("include_special_numbers", fc.IncludeSpecial)
	fc.FeatureScaling = get("feature_scaling", fc.FeatureScaling)
	if f, ok := toFloat(c.FeatureConfig["window_size"]); ok && f >= 0 {
		fc.WindowSize = int(f)
	}
	return fc
}

// Describe renders the parameters for logs and metadata.
func (c AlgorithmConfig) Describe() string {
	return fmt.Sprintf("%s %v", c.Variant, c.Parameters)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// variantOr picks the configured variant, falling back to def.
func variantOr(cfg AlgorithmConfig, def lottery.Variant) lottery.Variant {
	if cfg.Variant.Valid() {
		return cfg.Variant
	}
	if def.Valid() {
		return def
	}
	return lottery.SSQ
}
