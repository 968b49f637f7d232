package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	// AllowedOrigins lists browser origins accepted by the REST API and the
	// live channel. Empty means same-origin only.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	SeedFile       string   `mapstructure:"seed_file" yaml:"seed_file"`

	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Hub     HubConfig     `mapstructure:"hub" yaml:"hub"`
}

// LogConfig selects log verbosity and output format.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
}

// StorageConfig selects the identity and journal backend.
type StorageConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver" validate:"oneof=memory sqlite badger"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	BadgerDir  string `mapstructure:"badger_dir" yaml:"badger_dir" validate:"required_if=Driver badger"`
}

// AuthConfig configures credentials and session tokens.
type AuthConfig struct {
	// JWTSecret signs session tokens. When empty a random secret is generated
	// at startup and tokens do not survive a restart.
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer" yaml:"issuer"`
	Audience  string        `mapstructure:"audience" yaml:"audience"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" validate:"gt=0"`
	// Required guards the chat REST routes with bearer authentication.
	Required bool         `mapstructure:"required" yaml:"required"`
	Argon2   Argon2Config `mapstructure:"argon2" yaml:"argon2"`
}

// Argon2Config mirrors the argon2id cost parameters.
type Argon2Config struct {
	Time    uint32 `mapstructure:"time" yaml:"time" validate:"gte=1"`
	Memory  uint32 `mapstructure:"memory" yaml:"memory" validate:"gte=8"`
	Threads uint8  `mapstructure:"threads" yaml:"threads" validate:"gte=1"`
	KeyLen  uint32 `mapstructure:"key_len" yaml:"key_len" validate:"gte=16"`
}

// HubConfig tunes the live channel.
type HubConfig struct {
	OutboundQueue      int           `mapstructure:"outbound_queue" yaml:"outbound_queue" validate:"gte=1"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"gt=0"`
	MaxMessageBytes    int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes" validate:"gte=0"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute" validate:"gte=0"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "chatrelay.db",
			BadgerDir:  "data/badger",
		},
		Auth: AuthConfig{
			Issuer:   "chatrelay",
			Audience: "chatrelay",
			TokenTTL: time.Hour,
			Required: true,
			Argon2: Argon2Config{
				Time:    3,
				Memory:  64 * 1024,
				Threads: 2,
				KeyLen:  32,
			},
		},
		Hub: HubConfig{
			OutboundQueue:      32,
			WriteTimeout:       5 * time.Second,
			SweepInterval:      30 * time.Second,
			MaxMessageBytes:    1 << 16,
			RateLimitPerMinute: 120,
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateArgon2, Argon2Config{})
	return v
}

// validateArgon2 enforces argon2's floor of 8 KiB of memory per thread.
func validateArgon2(sl validator.StructLevel) {
	a := sl.Current().Interface().(Argon2Config)
	if uint64(a.Memory) < 8*uint64(a.Threads) {
		sl.ReportError(a.Memory, "Memory", "memory", "gte_8x_threads", "")
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
