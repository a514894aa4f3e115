package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ProviderSettings tunes the outbound provider clients. It is reloaded from
// providers.yml without a restart.
type ProviderSettings struct {
	Tailscale EndpointSettings `mapstructure:"tailscale"`
	Zitadel   EndpointSettings `mapstructure:"zitadel"`
	GCP       GCPSettings      `mapstructure:"gcp"`
	LXD       EndpointSettings `mapstructure:"lxd"`
	Polling   PollingSettings  `mapstructure:"polling"`
}

type EndpointSettings struct {
	BaseURL string        `mapstructure:"baseURL"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GCPSettings struct {
	TokenURL       string        `mapstructure:"tokenURL"`
	ComputeBaseURL string        `mapstructure:"computeBaseURL"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type PollingSettings struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts uint          `mapstructure:"maxAttempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func DefaultProviderSettings() ProviderSettings {
	return ProviderSettings{
		Tailscale: EndpointSettings{BaseURL: "https://api.tailscale.com/api/v2", Timeout: 15 * time.Second},
		Zitadel:   EndpointSettings{Timeout: 15 * time.Second},
		GCP: GCPSettings{
			TokenURL:       "https://oauth2.googleapis.com/token",
			ComputeBaseURL: "https://compute.googleapis.com/compute/v1",
			Timeout:        30 * time.Second,
		},
		LXD:     EndpointSettings{Timeout: 30 * time.Second},
		Polling: PollingSettings{Interval: 5 * time.Second, MaxAttempts: 60, Timeout: 6 * time.Minute},
	}
}

type ProviderSettingsHolder struct {
	current atomic.Value // holds ProviderSettings
}

// NewStaticProviderSettings returns a holder that never reloads.
func NewStaticProviderSettings(settings ProviderSettings) *ProviderSettingsHolder {
	holder := &ProviderSettingsHolder{}
	holder.current.Store(settings)
	return holder
}

func NewProviderSettingsHolder(log *zap.Logger) (*ProviderSettingsHolder, error) {
	log = log.Named("config.providers")
	v := viper.New()

	v.SetConfigName("providers")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/accessportal")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultProviderSettings()
	v.SetDefault("providers.tailscale.baseURL", defaults.Tailscale.BaseURL)
	v.SetDefault("providers.tailscale.timeout", defaults.Tailscale.Timeout)
	v.SetDefault("providers.zitadel.timeout", defaults.Zitadel.Timeout)
	v.SetDefault("providers.gcp.tokenURL", defaults.GCP.TokenURL)
	v.SetDefault("providers.gcp.computeBaseURL", defaults.GCP.ComputeBaseURL)
	v.SetDefault("providers.gcp.timeout", defaults.GCP.Timeout)
	v.SetDefault("providers.lxd.timeout", defaults.LXD.Timeout)
	v.SetDefault("providers.polling.interval", defaults.Polling.Interval)
	v.SetDefault("providers.polling.maxAttempts", defaults.Polling.MaxAttempts)
	v.SetDefault("providers.polling.timeout", defaults.Polling.Timeout)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var settings ProviderSettings
	if err := v.UnmarshalKey("providers", &settings); err != nil {
		return nil, err
	}
	if err := validateProviderSettings(settings); err != nil {
		return nil, err
	}

	holder := &ProviderSettingsHolder{}
	holder.current.Store(settings)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated ProviderSettings
			if err := v.UnmarshalKey("providers", &updated); err != nil {
				log.Warn("provider settings reload failed", zap.Error(err))
				return
			}
			if err := validateProviderSettings(updated); err != nil {
				log.Warn("invalid provider settings ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("provider settings reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *ProviderSettingsHolder) Get() ProviderSettings {
	if h == nil {
		return DefaultProviderSettings()
	}
	settings, ok := h.current.Load().(ProviderSettings)
	if !ok {
		return DefaultProviderSettings()
	}
	return settings
}

func validateProviderSettings(s ProviderSettings) error {
	if strings.TrimSpace(s.Tailscale.BaseURL) == "" {
		return errors.New("providers.tailscale.baseURL cannot be empty")
	}
	if strings.TrimSpace(s.GCP.TokenURL) == "" || strings.TrimSpace(s.GCP.ComputeBaseURL) == "" {
		return errors.New("providers.gcp endpoints cannot be empty")
	}
	if s.Polling.Interval <= 0 {
		return errors.New("providers.polling.interval must be positive")
	}
	if s.Polling.MaxAttempts == 0 {
		return errors.New("providers.polling.maxAttempts must be positive")
	}
	if s.Polling.Timeout < 0 {
		return errors.New("providers.polling.timeout cannot be negative")
	}
	return nil
}
