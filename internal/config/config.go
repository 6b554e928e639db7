package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds everything the API server needs at startup. Every field has a
// working default so the dev server runs with no config file at all;
// environment variables override whatever the file set.
type Config struct {
	Listen       string   `toml:"listen"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	IdleTimeout  duration `toml:"idle_timeout"`

	PostgresDSN string `toml:"postgres_dsn"`

	RateBurst  int `toml:"rate_burst"`
	RatePerSec int `toml:"rate_per_sec"`

	// CredentialHash is a bcrypt hash; when set, token issuance requires the
	// matching office credential. Empty means dev mode (tokens on request).
	CredentialHash string `toml:"credential_hash"`
}

// duration lets TOML carry values like "15s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func defaults() Config {
	return Config{
		Listen:       ":8080",
		ReadTimeout:  duration{15 * time.Second},
		WriteTimeout: duration{15 * time.Second},
		IdleTimeout:  duration{60 * time.Second},
		RateBurst:    20,
		RatePerSec:   10,
	}
}

// Load reads the TOML file at path (missing file is fine, defaults apply)
// and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("REFUNDLY_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("REFUNDLY_PG_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("REFUNDLY_CREDENTIAL_HASH"); v != "" {
		cfg.CredentialHash = v
	}
	if v := os.Getenv("REFUNDLY_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: REFUNDLY_RATE_BURST must be a positive integer")
		}
		cfg.RateBurst = n
	}
	if v := os.Getenv("REFUNDLY_RATE_PER_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: REFUNDLY_RATE_PER_SEC must be a positive integer")
		}
		cfg.RatePerSec = n
	}
	return cfg, nil
}
