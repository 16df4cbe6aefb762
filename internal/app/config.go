package app

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"trustkit/internal/crypto"
	"trustkit/internal/services/backup"
	"trustkit/internal/services/verification"
)

const (
	// EnvPrefix prefixes every environment override, e.g. TRUSTKIT_LOG_LEVEL.
	EnvPrefix = "TRUSTKIT"

	configName = "config"
	configType = "yaml"

	minPartnerTimeout = 2 * time.Minute
	maxPartnerTimeout = 5 * time.Minute
)

// Config holds runtime options for building the app.
type Config struct {
	Home       string `mapstructure:"home"` // state directory, e.g. $HOME/.trustkit
	UserID     string `mapstructure:"user_id"`
	DeviceID   string `mapstructure:"device_id"` // generated on first run when empty
	DeviceName string `mapstructure:"device_name"`
	PickleKey  string `mapstructure:"pickle_key"` // seals device secrets at rest

	Log          LogConfig          `mapstructure:"log"`
	Verification VerificationConfig `mapstructure:"verification"`
	Backup       BackupConfig       `mapstructure:"backup"`
	Partner      PartnerConfig      `mapstructure:"partner"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// LogConfig selects the log level, format and optional rotating file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // console or json
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// VerificationConfig tunes the verification state machine.
type VerificationConfig struct {
	PartnerTimeout time.Duration `mapstructure:"partner_timeout"`
}

// BackupConfig tunes the key backup manager and the local provider.
type BackupConfig struct {
	MinPassphraseLength int `mapstructure:"min_passphrase_length"`
	PBKDF2Iterations    int `mapstructure:"pbkdf2_iterations"`
}

// PartnerConfig controls the simulated partner devices of the local provider.
type PartnerConfig struct {
	Auto  bool          `mapstructure:"auto"`
	Delay time.Duration `mapstructure:"delay"`
}

// MetricsConfig names the textfile the metrics are written to on exit.
type MetricsConfig struct {
	File string `mapstructure:"file"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	home := ".trustkit"
	if dir, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(dir, ".trustkit")
	}
	return Config{
		Home:       home,
		DeviceName: "trustkit CLI",
		Log: LogConfig{
			Level:      zerolog.InfoLevel.String(),
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Verification: VerificationConfig{PartnerTimeout: verification.DefaultPartnerTimeout},
		Backup: BackupConfig{
			MinPassphraseLength: backup.DefaultMinPassphraseLength,
			PBKDF2Iterations:    crypto.DefaultPBKDF2Iterations,
		},
		Partner: PartnerConfig{Auto: true, Delay: 500 * time.Millisecond},
	}
}

// SetDefaults registers DefaultConfig on v so that every key is known to
// viper, including for environment lookups.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("home", d.Home)
	v.SetDefault("user_id", d.UserID)
	v.SetDefault("device_id", d.DeviceID)
	v.SetDefault("device_name", d.DeviceName)
	v.SetDefault("pickle_key", d.PickleKey)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("verification.partner_timeout", d.Verification.PartnerTimeout)
	v.SetDefault("backup.min_passphrase_length", d.Backup.MinPassphraseLength)
	v.SetDefault("backup.pbkdf2_iterations", d.Backup.PBKDF2Iterations)
	v.SetDefault("partner.auto", d.Partner.Auto)
	v.SetDefault("partner.delay", d.Partner.Delay)
	v.SetDefault("metrics.file", d.Metrics.File)
}

// LoadConfig reads <home>/config.yaml and TRUSTKIT_* environment variables
// into a Config. A missing config file is not an error.
func LoadConfig(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(v.GetString("home"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Home == "":
		return errors.New("home is required")
	case c.UserID == "":
		return errors.New("user_id is required (--user or TRUSTKIT_USER_ID)")
	case !strings.HasPrefix(c.UserID, "@") || !strings.Contains(c.UserID, ":"):
		return errors.Errorf("user_id %q is not a Matrix user id", c.UserID)
	case c.Verification.PartnerTimeout < minPartnerTimeout || c.Verification.PartnerTimeout > maxPartnerTimeout:
		return errors.Errorf("verification.partner_timeout %s is outside [%s, %s]",
			c.Verification.PartnerTimeout, minPartnerTimeout, maxPartnerTimeout)
	case c.Backup.MinPassphraseLength < 1:
		return errors.New("backup.min_passphrase_length must be positive")
	case c.Backup.PBKDF2Iterations < 1:
		return errors.New("backup.pbkdf2_iterations must be positive")
	case c.Partner.Delay < 0:
		return errors.New("partner.delay must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return errors.Errorf("log.format %q must be console or json", c.Log.Format)
	}
	return nil
}
