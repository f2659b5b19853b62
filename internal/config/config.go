// Package config loads server configuration from defaults, an optional YAML
// file, a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr         string        `yaml:"addr"`
	LogLevel     string        `yaml:"log_level"`
	DatabaseURL  string        `yaml:"database_url"`
	BodyLimit    int           `yaml:"body_limit"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
	Redis        Redis         `yaml:"redis"`
	Gemini       Gemini        `yaml:"gemini"`
	Auth         Auth          `yaml:"auth"`
}

type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type Gemini struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Auth maps bearer tokens to owner ids.
type Auth struct {
	Tokens map[string]string `yaml:"tokens"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:         ":3015",
		LogLevel:     "info",
		BodyLimit:    10 * 1024 * 1024,
		CORSOrigins:  []string{"http://localhost:3013", "http://localhost:3000"},
		ShutdownWait: 5 * time.Second,
		Redis:        Redis{TTL: 24 * time.Hour},
		Auth:         Auth{Tokens: map[string]string{}},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("FLOWGRAPH_ADDR", &c.Addr)
	str("LOG_LEVEL", &c.LogLevel)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("GEMINI_API_KEY", &c.Gemini.APIKey)
	str("GEMINI_API_BASE_URL", &c.Gemini.BaseURL)

	if v, ok := lookup("REDIS_DB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	if v, ok := lookup("SESSION_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: SESSION_TTL: %w", err)
		}
		c.Redis.TTL = d
	}
	if v, ok := lookup("FLOWGRAPH_CORS_ORIGINS"); ok && v != "" {
		c.CORSOrigins = splitList(v)
	}
	// FLOWGRAPH_TOKENS=token1:user1,token2:user2
	if v, ok := lookup("FLOWGRAPH_TOKENS"); ok && v != "" {
		if c.Auth.Tokens == nil {
			c.Auth.Tokens = map[string]string{}
		}
		for _, pair := range splitList(v) {
			token, owner, found := strings.Cut(pair, ":")
			if !found || token == "" || owner == "" {
				return fmt.Errorf("config: FLOWGRAPH_TOKENS: malformed entry %q", pair)
			}
			c.Auth.Tokens[token] = owner
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
