package config

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// ErrPolicyInvalid marks an invoicing policy that failed validation.
var ErrPolicyInvalid = errors.New("invalid invoicing policy")

// InvoicingPolicy holds the business knobs of the recomputation engine that
// product wants to tune without a deploy.
type InvoicingPolicy struct {
	// SplitTemplates maps a template name to installment ratios. Ratios of a
	// template must sum to 1.
	SplitTemplates map[string][]float64 `mapstructure:"splitTemplates"`

	// DefaultSplit is applied when an invoice carries no template or an
	// unknown one.
	DefaultSplit []float64 `mapstructure:"defaultSplit"`

	// MinFirstPercent is the default minimum-first-payment percentage applied
	// when an invoice has no override.
	MinFirstPercent int64 `mapstructure:"minFirstPercent"`

	// InstallmentIntervalDays is the gap between consecutive installment due
	// dates.
	InstallmentIntervalDays int `mapstructure:"installmentIntervalDays"`
}

func DefaultInvoicingPolicy() InvoicingPolicy {
	return InvoicingPolicy{
		SplitTemplates: map[string][]float64{
			"40/30/30": {0.4, 0.3, 0.3},
		},
		DefaultSplit:            []float64{0.6, 0.4},
		MinFirstPercent:         30,
		InstallmentIntervalDays: 30,
	}
}

// Ratios resolves a split template name to its ratios. Unknown or empty
// template names fall back to the default split.
func (p InvoicingPolicy) Ratios(template string) []float64 {
	if ratios, ok := p.SplitTemplates[strings.TrimSpace(template)]; ok {
		return ratios
	}
	return p.DefaultSplit
}

// PolicyHolder exposes the current policy and swaps it atomically on reload.
type PolicyHolder struct {
	current atomic.Value // holds InvoicingPolicy
}

func (h *PolicyHolder) Current() InvoicingPolicy {
	return h.current.Load().(InvoicingPolicy)
}

// StaticPolicyHolder wraps a fixed policy. Used by tests and tooling that do
// not watch a config file.
func StaticPolicyHolder(p InvoicingPolicy) *PolicyHolder {
	h := &PolicyHolder{}
	h.current.Store(p)
	return h
}

// PolicyModule provides the hot-reloadable invoicing policy.
var PolicyModule = fx.Provide(NewPolicyHolder)

// NewPolicyHolder loads invoicing.yml, validates it eagerly and watches it for
// changes. A missing file yields the defaults; an invalid file fails startup.
func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("invoicing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/classpoint/config")
	v.AddConfigPath("/etc/classpoint")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLASSPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultInvoicingPolicy()
		v.SetDefault("invoicing.splitTemplates", defaults.SplitTemplates)
		v.SetDefault("invoicing.defaultSplit", defaults.DefaultSplit)
		v.SetDefault("invoicing.minFirstPercent", defaults.MinFirstPercent)
		v.SetDefault("invoicing.installmentIntervalDays", defaults.InstallmentIntervalDays)
	}

	var policy InvoicingPolicy
	if err := v.UnmarshalKey("invoicing", &policy); err != nil {
		return nil, err
	}
	if err := ValidateInvoicingPolicy(policy); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated InvoicingPolicy
		if err := v.UnmarshalKey("invoicing", &updated); err != nil {
			log.Printf("[invoicing-policy] reload failed: %v", err)
			return
		}
		if err := ValidateInvoicingPolicy(updated); err != nil {
			log.Printf("[invoicing-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
	})

	return holder, nil
}

// ValidateInvoicingPolicy rejects split ratios that do not sum to 1 and
// out-of-range knobs.
func ValidateInvoicingPolicy(p InvoicingPolicy) error {
	if len(p.DefaultSplit) == 0 {
		return fmt.Errorf("%w: defaultSplit is empty", ErrPolicyInvalid)
	}
	if err := validateRatios("defaultSplit", p.DefaultSplit); err != nil {
		return err
	}
	for name, ratios := range p.SplitTemplates {
		if err := validateRatios(name, ratios); err != nil {
			return err
		}
	}
	if p.MinFirstPercent < 0 || p.MinFirstPercent > 100 {
		return fmt.Errorf("%w: minFirstPercent %d out of range", ErrPolicyInvalid, p.MinFirstPercent)
	}
	if p.InstallmentIntervalDays <= 0 {
		return fmt.Errorf("%w: installmentIntervalDays %d must be positive", ErrPolicyInvalid, p.InstallmentIntervalDays)
	}
	return nil
}

func validateRatios(name string, ratios []float64) error {
	if len(ratios) == 0 {
		return fmt.Errorf("%w: split %q has no ratios", ErrPolicyInvalid, name)
	}
	var sum float64
	for _, r := range ratios {
		if r <= 0 {
			return fmt.Errorf("%w: split %q has non-positive ratio %v", ErrPolicyInvalid, name, r)
		}
		sum += r
	}
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("%w: split %q ratios sum to %v, want 1", ErrPolicyInvalid, name, sum)
	}
	return nil
}
