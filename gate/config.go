/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package gate

import (
	"fmt"
	"time"

	"github.com/acronis/go-apigate/admission"
	"github.com/acronis/go-apigate/cache"
	"github.com/acronis/go-apigate/config"
	"github.com/acronis/go-apigate/dedup"
	"github.com/acronis/go-apigate/log"
	"github.com/acronis/go-apigate/querycost"
	"github.com/acronis/go-apigate/respshape"
)

// RateConfig describes a request rate in configuration.
type RateConfig struct {
	Count int                 `mapstructure:"count" yaml:"count" json:"count"`
	Per   config.TimeDuration `mapstructure:"per" yaml:"per" json:"per"`
}

// AdmissionConfig contains configuration parameters for the admission controller.
type AdmissionConfig struct {
	MinInterval       config.TimeDuration           `mapstructure:"minInterval" yaml:"minInterval" json:"minInterval"`
	DispatchDelay     config.TimeDuration           `mapstructure:"dispatchDelay" yaml:"dispatchDelay" json:"dispatchDelay"`
	LowQuotaThreshold int                           `mapstructure:"lowQuotaThreshold" yaml:"lowQuotaThreshold" json:"lowQuotaThreshold"`
	QuotaLimits       map[string]int                `mapstructure:"quotaLimits" yaml:"quotaLimits" json:"quotaLimits"`
	BurstAlg          string                        `mapstructure:"burstAlg" yaml:"burstAlg" json:"burstAlg"`
	BurstRate         RateConfig                    `mapstructure:"burstRate" yaml:"burstRate" json:"burstRate"`
	MaxBurst          int                           `mapstructure:"maxBurst" yaml:"maxBurst" json:"maxBurst"`
}

// DedupConfig contains configuration parameters for request deduplication.
type DedupConfig struct {
	Disabled      bool                `mapstructure:"disabled" yaml:"disabled" json:"disabled"`
	MaxPendingAge config.TimeDuration `mapstructure:"maxPendingAge" yaml:"maxPendingAge" json:"maxPendingAge"`
}

// TTLRuleConfig maps an operation name pattern to a cache TTL in configuration.
type TTLRuleConfig struct {
	Operation string              `mapstructure:"operation" yaml:"operation" json:"operation"`
	TTL       config.TimeDuration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// CacheConfig contains configuration parameters for the caching layer.
type CacheConfig struct {
	Disabled   bool                `mapstructure:"disabled" yaml:"disabled" json:"disabled"`
	MaxEntries int                 `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
	DefaultTTL config.TimeDuration `mapstructure:"defaultTTL" yaml:"defaultTTL" json:"defaultTTL"`
	TTLRules   []TTLRuleConfig     `mapstructure:"ttlRules" yaml:"ttlRules" json:"ttlRules"`
}

// ShapingConfig contains configuration parameters for response shaping.
type ShapingConfig struct {
	MaxStringLen int `mapstructure:"maxStringLen" yaml:"maxStringLen" json:"maxStringLen"`
}

// QueryCostConfig contains configuration parameters for the cost estimator.
type QueryCostConfig struct {
	WarnPointsLimit int `mapstructure:"warnPointsLimit" yaml:"warnPointsLimit" json:"warnPointsLimit"`
	FallbackPoints  int `mapstructure:"fallbackPoints" yaml:"fallbackPoints" json:"fallbackPoints"`
}

// RoutingRuleConfig maps an operation name pattern to a resource class in configuration.
type RoutingRuleConfig struct {
	Operation string `mapstructure:"operation" yaml:"operation" json:"operation"`
	Resource  string `mapstructure:"resource" yaml:"resource" json:"resource"`
}

// Config represents a set of configuration parameters for the gate.
// It can be loaded from YAML or JSON with config.LoadFromReader.
type Config struct {
	Admission AdmissionConfig     `mapstructure:"admission" yaml:"admission" json:"admission"`
	Dedup     DedupConfig         `mapstructure:"dedup" yaml:"dedup" json:"dedup"`
	Cache     CacheConfig         `mapstructure:"cache" yaml:"cache" json:"cache"`
	Shaping   ShapingConfig       `mapstructure:"shaping" yaml:"shaping" json:"shaping"`
	QueryCost QueryCostConfig     `mapstructure:"queryCost" yaml:"queryCost" json:"queryCost"`
	Routing   []RoutingRuleConfig `mapstructure:"routing" yaml:"routing" json:"routing"`
}

// NewDefaultConfig creates a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Admission: AdmissionConfig{
			MinInterval:       config.TimeDuration(admission.DefaultMinInterval),
			DispatchDelay:     config.TimeDuration(admission.DefaultDispatchDelay),
			LowQuotaThreshold: admission.DefaultLowQuotaThreshold,
		},
		Dedup: DedupConfig{
			MaxPendingAge: config.TimeDuration(dedup.DefaultMaxPendingAge),
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			DefaultTTL: config.TimeDuration(DefaultCacheTTL),
		},
	}
}

// NewFromConfig creates a new Gate from the provided configuration.
// The logger may be nil.
func NewFromConfig(cfg *Config, logger log.FieldLogger) (*Gate, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if logger == nil {
		logger = log.NewDisabledLogger()
	}

	opts := Opts{
		Logger: logger,
		Admission: admission.ControllerOpts{
			MinInterval:       time.Duration(cfg.Admission.MinInterval),
			DispatchDelay:     time.Duration(cfg.Admission.DispatchDelay),
			LowQuotaThreshold: cfg.Admission.LowQuotaThreshold,
			BurstAlg:          admission.BurstLimitAlg(cfg.Admission.BurstAlg),
			BurstRate: admission.Rate{
				Count:    cfg.Admission.BurstRate.Count,
				Duration: time.Duration(cfg.Admission.BurstRate.Per),
			},
			MaxBurst: cfg.Admission.MaxBurst,
		},
		Dedup: dedup.Opts{
			MaxPendingAge: time.Duration(cfg.Dedup.MaxPendingAge),
		},
		DisableDedup:    cfg.Dedup.Disabled,
		DefaultCacheTTL: time.Duration(cfg.Cache.DefaultTTL),
	}

	if len(cfg.Admission.QuotaLimits) > 0 {
		opts.Admission.QuotaLimits = make(map[admission.ResourceClass]int, len(cfg.Admission.QuotaLimits))
		for res, limit := range cfg.Admission.QuotaLimits {
			opts.Admission.QuotaLimits[admission.ResourceClass(res)] = limit
		}
	}

	if !cfg.Cache.Disabled {
		maxEntries := cfg.Cache.MaxEntries
		if maxEntries <= 0 {
			maxEntries = 1000
		}
		c, err := cache.New(maxEntries, nil)
		if err != nil {
			return nil, fmt.Errorf("new cache: %w", err)
		}
		opts.Cache = c
	}

	for _, r := range cfg.Cache.TTLRules {
		opts.TTLRules = append(opts.TTLRules, TTLRule{Pattern: r.Operation, TTL: time.Duration(r.TTL)})
	}
	for _, r := range cfg.Routing {
		opts.ResourceRules = append(opts.ResourceRules, ResourceRule{
			Pattern:  r.Operation,
			Resource: admission.ResourceClass(r.Resource),
		})
	}

	if cfg.Shaping.MaxStringLen > 0 {
		opts.Shaper = respshape.NewWithOpts(respshape.Opts{MaxStringLen: cfg.Shaping.MaxStringLen, Logger: logger})
	}
	if cfg.QueryCost.WarnPointsLimit > 0 || cfg.QueryCost.FallbackPoints > 0 {
		opts.Estimator = querycost.NewEstimatorWithOpts(querycost.Opts{
			WarnPointsLimit: cfg.QueryCost.WarnPointsLimit,
			FallbackPoints:  cfg.QueryCost.FallbackPoints,
		})
	}

	return New(opts)
}
