package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// config holds the analyst settings. Values come from the YAML file,
	// then the environment, then flags.
	config struct {
		Endpoint string `yaml:"endpoint"`
		Token    string `yaml:"token"`
		Language string `yaml:"language"`
		Market   string `yaml:"market"`
		// Session resumes an existing session instead of creating one.
		Session     string        `yaml:"session"`
		AutoExecute *bool         `yaml:"auto_execute"`
		Strict      bool          `yaml:"strict"`
		Debug       bool          `yaml:"debug"`
		RateLimit   float64       `yaml:"rate_limit"`
		RateBurst   int           `yaml:"rate_burst"`
		Redis       redisConfig   `yaml:"redis"`
		Mongo       mongoConfig   `yaml:"mongo"`
		Timeout     time.Duration `yaml:"timeout"`
		// Watch and Replay are set by flag only.
		Watch  string `yaml:"-"`
		Replay string `yaml:"-"`
	}

	redisConfig struct {
		URL    string `yaml:"url"`
		MaxLen int    `yaml:"max_len"`
	}

	mongoConfig struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	}
)

func defaultConfig() config {
	return config{
		Endpoint:  "http://127.0.0.1:8000/api",
		Language:  "en",
		Market:    "crypto",
		RateLimit: 2,
		RateBurst: 1,
		Mongo:     mongoConfig{Database: "analyst"},
		Timeout:   5 * time.Second,
		Redis:     redisConfig{MaxLen: 1000},
	}
}

// loadFile merges the YAML file at path into cfg. A missing file is not an
// error.
func loadFile(cfg *config, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with the ANALYST_* and backend variables set in
// the environment.
func applyEnv(cfg *config, getenv func(string) string) error {
	cfg.Endpoint = envOr(getenv, "ANALYST_ENDPOINT", cfg.Endpoint)
	cfg.Token = envOr(getenv, "ANALYST_TOKEN", cfg.Token)
	cfg.Language = envOr(getenv, "ANALYST_LANGUAGE", cfg.Language)
	cfg.Market = envOr(getenv, "ANALYST_MARKET", cfg.Market)
	cfg.Session = envOr(getenv, "ANALYST_SESSION", cfg.Session)
	cfg.Redis.URL = envOr(getenv, "REDIS_URL", cfg.Redis.URL)
	cfg.Mongo.URI = envOr(getenv, "MONGO_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = envOr(getenv, "MONGO_DATABASE", cfg.Mongo.Database)
	if v := getenv("ANALYST_AUTO_EXECUTE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ANALYST_AUTO_EXECUTE: %w", err)
		}
		cfg.AutoExecute = &b
	}
	if v := getenv("ANALYST_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ANALYST_RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = f
	}
	return nil
}

// parseConfig resolves the configuration from file, environment and args.
// The -config flag is read before the file so the file can be located.
func parseConfig(args []string, getenv func(string) string) (config, error) {
	cfg := defaultConfig()
	path := envOr(getenv, "ANALYST_CONFIG", "analyst.yaml")
	for i, a := range args {
		a = strings.TrimLeft(a, "-")
		if a == "config" && i+1 < len(args) {
			path = args[i+1]
		} else if v, ok := strings.CutPrefix(a, "config="); ok {
			path = v
		}
	}
	if err := loadFile(&cfg, path); err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}

	flags := flag.NewFlagSet("analyst", flag.ContinueOnError)
	flags.String("config", path, "YAML configuration file")
	flags.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "Analysis service base URL")
	flags.StringVar(&cfg.Token, "token", cfg.Token, "Bearer token")
	flags.StringVar(&cfg.Language, "language", cfg.Language, "Response language")
	flags.StringVar(&cfg.Market, "market", cfg.Market, "Market type (crypto, tw_stock, us_stock)")
	flags.StringVar(&cfg.Session, "session", cfg.Session, "Existing session id")
	flags.BoolVar(&cfg.Strict, "strict", cfg.Strict, "Skip records that fail the event schema")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Log debug messages")
	flags.Float64Var(&cfg.RateLimit, "rate", cfg.RateLimit, "Analyze requests per second (0 disables)")
	flags.StringVar(&cfg.Redis.URL, "redis", cfg.Redis.URL, "Redis URL for event mirroring")
	flags.StringVar(&cfg.Watch, "watch", "", "Follow the mirrored events of a session instead of chatting")
	flags.StringVar(&cfg.Replay, "replay", "", "Print the recorded events of a run and exit")
	flags.StringVar(&cfg.Mongo.URI, "mongo", cfg.Mongo.URI, "MongoDB URI for session history and run logs")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
