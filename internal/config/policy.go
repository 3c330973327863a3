package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Policy holds business knobs that operators tune without a redeploy.
type Policy struct {
	OrderExpiryMinutes   int     `mapstructure:"orderExpiryMinutes"`
	DefaultCurrency      string  `mapstructure:"defaultCurrency"`
	AdminFeePercent      float64 `mapstructure:"adminFeePercent"`
	MembershipGraceDays  int     `mapstructure:"membershipGraceDays"`
	ConfirmationFromName string  `mapstructure:"confirmationFromName"`
}

func DefaultPolicy() Policy {
	return Policy{
		OrderExpiryMinutes:   30,
		DefaultCurrency:      "HKD",
		AdminFeePercent:      0,
		MembershipGraceDays:  0,
		ConfirmationFromName: "Memberhub",
	}
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyHolder(cfg Config) (*PolicyHolder, error) {
	v := viper.New()

	name := strings.TrimSpace(cfg.Policies.Name)
	if name == "" {
		name = "policy"
	}
	v.SetConfigName(name)
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.Policies.Path); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("MEMBERHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("policy.orderExpiryMinutes", defaults.OrderExpiryMinutes)
	v.SetDefault("policy.defaultCurrency", defaults.DefaultCurrency)
	v.SetDefault("policy.adminFeePercent", defaults.AdminFeePercent)
	v.SetDefault("policy.membershipGraceDays", defaults.MembershipGraceDays)
	v.SetDefault("policy.confirmationFromName", defaults.ConfirmationFromName)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var policy Policy
	if err := v.UnmarshalKey("policy", &policy); err != nil {
		return nil, err
	}
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Policy
		if err := v.UnmarshalKey("policy", &updated); err != nil {
			log.Printf("[policy-config] reload failed: %v", err)
			return
		}
		if err := validatePolicy(updated); err != nil {
			log.Printf("[policy-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[policy-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	if h == nil {
		return DefaultPolicy()
	}
	p, ok := h.current.Load().(Policy)
	if !ok {
		return DefaultPolicy()
	}
	return p
}

func validatePolicy(p Policy) error {
	if p.OrderExpiryMinutes < 0 {
		return errors.New("policy.orderExpiryMinutes cannot be negative")
	}
	if strings.TrimSpace(p.DefaultCurrency) == "" {
		return errors.New("policy.defaultCurrency cannot be empty")
	}
	if p.AdminFeePercent < 0 || p.AdminFeePercent > 100 {
		return errors.New("policy.adminFeePercent must be between 0 and 100")
	}
	if p.MembershipGraceDays < 0 {
		return errors.New("policy.membershipGraceDays cannot be negative")
	}
	return nil
}
