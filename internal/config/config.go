// Package config loads and validates the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"

	"github.com/justestif/go-spotify-reverse-sync/internal/spotify"
	"github.com/justestif/go-spotify-reverse-sync/internal/sync"
)

// Defaults for optional settings.
const (
	DefaultSchedule     = "@hourly"
	DefaultCycleTimeout = 10 * time.Minute
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
)

// ErrMissingValue is wrapped by Error for every required variable that is unset.
var ErrMissingValue = errors.New("missing required environment variable")

// Error is returned when the configuration is missing or invalid.
// It lists every problem found, not just the first one.
type Error struct {
	Problems []error
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual problems to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return e.Problems
}

// Config holds everything the service needs, populated once at startup.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// Source and Destination are bare playlist IDs.
	Source      string
	Destination string

	Schedule      string
	CycleTimeout  time.Duration
	BatchSize     int
	WriteInterval time.Duration
	RunOnStart    bool

	Log LogConfig

	DatabaseURL string
	StatusAddr  string

	// Overrides for the upstream endpoints; empty means the Spotify defaults.
	APIURL   string
	TokenURL string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
	File   string // empty disables the rotating file sink
}

// Load reads a .env file (if it exists) into the process environment and
// then builds the configuration from it.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Problems: []error{fmt.Errorf("loading %s: %w", envFile, err)}}
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds and validates a Config using the given lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	var problems []error

	required := func(key string) string {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			problems = append(problems, fmt.Errorf("%w: %s", ErrMissingValue, key))
		}
		return v
	}

	cfg := &Config{
		ClientID:     required("CLIENT_ID"),
		ClientSecret: required("CLIENT_SECRET"),
		RefreshToken: required("REFRESH_TOKEN"),
		Schedule:     withDefault(getenv("SCHEDULE"), DefaultSchedule),
		Log: LogConfig{
			Level:  strings.ToLower(withDefault(getenv("LOG_LEVEL"), DefaultLogLevel)),
			Format: strings.ToLower(withDefault(getenv("LOG_FORMAT"), DefaultLogFormat)),
			File:   getenv("LOG_FILE"),
		},
		DatabaseURL: getenv("DATABASE_URL"),
		StatusAddr:  getenv("STATUS_ADDR"),
		APIURL:      getenv("SPOTIFY_API_URL"),
		TokenURL:    getenv("SPOTIFY_TOKEN_URL"),
	}

	from := required("FROM")
	to := required("TO")
	if from != "" {
		id, err := spotify.ParsePlaylistID(from)
		if err != nil {
			problems = append(problems, fmt.Errorf("FROM: %w", err))
		}
		cfg.Source = id
	}
	if to != "" {
		id, err := spotify.ParsePlaylistID(to)
		if err != nil {
			problems = append(problems, fmt.Errorf("TO: %w", err))
		}
		cfg.Destination = id
	}
	if cfg.Source != "" && cfg.Source == cfg.Destination {
		problems = append(problems, errors.New("FROM and TO must be different playlists"))
	}

	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		problems = append(problems, fmt.Errorf("SCHEDULE: %w", err))
	}

	var err error
	if cfg.CycleTimeout, err = parseDuration(getenv("CYCLE_TIMEOUT"), DefaultCycleTimeout); err != nil {
		problems = append(problems, fmt.Errorf("CYCLE_TIMEOUT: %w", err))
	}
	if cfg.WriteInterval, err = parseDuration(getenv("WRITE_INTERVAL"), sync.DefaultWriteInterval); err != nil {
		problems = append(problems, fmt.Errorf("WRITE_INTERVAL: %w", err))
	}
	if cfg.CycleTimeout <= 0 {
		problems = append(problems, errors.New("CYCLE_TIMEOUT must be positive"))
	}

	cfg.BatchSize = spotify.MaxTracksPerRequest
	if v := getenv("BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil:
			problems = append(problems, fmt.Errorf("BATCH_SIZE: %w", err))
		case n < 1 || n > spotify.MaxTracksPerRequest:
			problems = append(problems, fmt.Errorf("BATCH_SIZE must be between 1 and %d, got %d", spotify.MaxTracksPerRequest, n))
		default:
			cfg.BatchSize = n
		}
	}

	if v := getenv("RUN_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			problems = append(problems, fmt.Errorf("RUN_ON_START: %w", err))
		}
		cfg.RunOnStart = b
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		problems = append(problems, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		problems = append(problems, fmt.Errorf("LOG_FORMAT must be json or console, got %q", cfg.Log.Format))
	}

	if len(problems) > 0 {
		return nil, &Error{Problems: problems}
	}
	return cfg, nil
}

func withDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func parseDuration(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}
