package session

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	// DefaultSyncInterval is the trust re-assessment cadence
	DefaultSyncInterval = 5 * time.Minute
	// DefaultTokenLeeway is the clock skew tolerated on token expiry
	DefaultTokenLeeway = 30 * time.Second
)

var _ Config = BaseConfig{}

// BaseConfig is a static Config, suitable for decoding from JSON or YAML.
type BaseConfig struct {
	SyncInterval time.Duration `json:"sync_interval" yaml:"sync_interval"`
	TokenLeeway  time.Duration `json:"token_leeway" yaml:"token_leeway"`
}

// DefaultConfig returns a BaseConfig populated with defaults.
func DefaultConfig() BaseConfig {
	return BaseConfig{
		SyncInterval: DefaultSyncInterval,
		TokenLeeway:  DefaultTokenLeeway,
	}
}

func (c BaseConfig) GetSyncInterval() time.Duration {
	if c.SyncInterval <= 0 {
		return DefaultSyncInterval
	}
	return c.SyncInterval
}

func (c BaseConfig) GetTokenLeeway() time.Duration {
	if c.TokenLeeway < 0 {
		return 0
	}
	return c.TokenLeeway
}

// Validate will run validation rules
func (c BaseConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.SyncInterval, validation.Min(time.Second)),
		validation.Field(&c.TokenLeeway, validation.Min(time.Duration(0)), validation.Max(10*time.Minute)),
	)
	if err != nil {
		return withSource(ErrInvalidConfig, err)
	}
	return nil
}
