// Package config loads serialdebug settings from defaults, an optional config
// file and SERIALDEBUG_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SERIALDEBUG_ADMIN_LISTEN.
const EnvPrefix = "SERIALDEBUG"

// Config holds application configuration.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Parser    ParserConfig    `mapstructure:"parser"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Log       LogConfig       `mapstructure:"log"`
}

// SchedulerConfig controls the drive loop.
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// ParserConfig bounds command frames.
type ParserConfig struct {
	// MaxFrameSize is the largest frame body in bytes; 0 disables the limit.
	MaxFrameSize int `mapstructure:"max_frame_size"`
}

// AdminConfig holds the debug HTTP listener.
type AdminConfig struct {
	Listen string `mapstructure:"listen"`
}

// CaptureConfig holds the event capture database. An empty path disables
// capture.
type CaptureConfig struct {
	Path string `mapstructure:"path"`
}

// SerialConfig holds defaults applied to serial device configurations that
// leave them unset.
type SerialConfig struct {
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// LogConfig holds logging switches.
type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.tick_interval", 50*time.Millisecond)
	v.SetDefault("parser.max_frame_size", 0)
	v.SetDefault("admin.listen", "localhost:8088")
	v.SetDefault("capture.path", "")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.read_timeout", time.Millisecond)
	v.SetDefault("log.debug", false)
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	// defaults always decode
	_ = v.Unmarshal(&c)
	return c
}

// Load reads configuration. path, when non-empty, names the config file and
// must exist; otherwise SERIALDEBUG_CONFIG is consulted, then
// $HOME/.config/serialdebug/config.{toml,yaml,json} if present.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "serialdebug"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings the runtime cannot honour.
func (c Config) Validate() error {
	var errs []error
	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick_interval must be positive, got %s", c.Scheduler.TickInterval))
	}
	if c.Parser.MaxFrameSize < 0 {
		errs = append(errs, fmt.Errorf("parser.max_frame_size must not be negative, got %d", c.Parser.MaxFrameSize))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Serial.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("serial.read_timeout must not be negative, got %s", c.Serial.ReadTimeout))
	}
	return errors.Join(errs...)
}
