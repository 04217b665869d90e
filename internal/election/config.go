package election

import (
	"fmt"
	"log/slog"
	"time"
)

// Значения по умолчанию.
const (
	DefaultResourceName       = "quorum-leader"
	DefaultNamespace          = "default"
	DefaultLeaseDuration      = 30 * time.Second
	DefaultRenewDeadline      = 25 * time.Second
	DefaultRetryPeriod        = 2 * time.Second
	DefaultJitterMin          = 1.0
	DefaultJitterMax          = 1.5
	DefaultClockSkewTolerance = time.Second
)

// Config — конфигурация Elector.
type Config struct {
	// ResourceName — имя записи lease.
	ResourceName string `yaml:"resource_name"`

	// Namespace — пространство имён lease.
	Namespace string `yaml:"namespace"`

	// Identity — идентификатор узла. Обязателен.
	Identity string `yaml:"-"`

	// LeaseDuration — сколько lease действителен после RenewTime.
	LeaseDuration time.Duration `yaml:"lease_duration"`

	// RenewDeadline — через сколько после RenewTime лидер продлевает lease.
	RenewDeadline time.Duration `yaml:"renew_deadline"`

	// RetryPeriod — базовый период цикла.
	RetryPeriod time.Duration `yaml:"retry_period"`

	// JitterMin, JitterMax — диапазон множителя RetryPeriod.
	JitterMin float64 `yaml:"jitter_min"`
	JitterMax float64 `yaml:"jitter_max"`

	// ClockSkewTolerance — запас на расхождение часов узлов.
	ClockSkewTolerance time.Duration `yaml:"clock_skew_tolerance"`

	// ReleaseOnCancel — при остановке лидер очищает HolderIdentity.
	ReleaseOnCancel bool `yaml:"release_on_cancel"`

	// Logger — логгер. По умолчанию slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig возвращает конфигурацию по умолчанию для узла identity.
func DefaultConfig(identity string) Config {
	return Config{
		ResourceName:       DefaultResourceName,
		Namespace:          DefaultNamespace,
		Identity:           identity,
		LeaseDuration:      DefaultLeaseDuration,
		RenewDeadline:      DefaultRenewDeadline,
		RetryPeriod:        DefaultRetryPeriod,
		JitterMin:          DefaultJitterMin,
		JitterMax:          DefaultJitterMax,
		ClockSkewTolerance: DefaultClockSkewTolerance,
		ReleaseOnCancel:    true,
	}
}

// withDefaults заполняет пустые поля значениями по умолчанию.
func (c Config) withDefaults() Config {
	if c.ResourceName == "" {
		c.ResourceName = DefaultResourceName
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.LeaseDuration == 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.RenewDeadline == 0 {
		c.RenewDeadline = DefaultRenewDeadline
	}
	if c.RetryPeriod == 0 {
		c.RetryPeriod = DefaultRetryPeriod
	}
	if c.JitterMin == 0 && c.JitterMax == 0 {
		c.JitterMin = DefaultJitterMin
		c.JitterMax = DefaultJitterMax
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate проверяет конфигурацию.
func (c Config) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidConfig)
	}
	if c.LeaseDuration <= 0 || c.RenewDeadline <= 0 || c.RetryPeriod <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	if c.ClockSkewTolerance < 0 {
		return fmt.Errorf("%w: clock skew tolerance must not be negative", ErrInvalidConfig)
	}
	if c.RenewDeadline+c.ClockSkewTolerance >= c.LeaseDuration {
		return fmt.Errorf("%w: renew deadline (%s) plus clock skew tolerance (%s) must be less than lease duration (%s)",
			ErrInvalidConfig, c.RenewDeadline, c.ClockSkewTolerance, c.LeaseDuration)
	}
	if c.JitterMin < 1 || c.JitterMax < c.JitterMin {
		return fmt.Errorf("%w: jitter range [%.2f, %.2f] must satisfy 1 <= min <= max",
			ErrInvalidConfig, c.JitterMin, c.JitterMax)
	}
	return nil
}
