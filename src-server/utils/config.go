package utils

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"edusched/src-server/conflict"
	"edusched/src-server/recurrence"
)

type Config struct {
	port         string
	databasePath string
	logLevel     slog.Level

	location *time.Location

	horizon        time.Duration
	maxOccurrences int
	policy         conflict.Policy

	policyFile           string
	academicCalendarFile string

	horizonCron    string
	metricInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		port: func() string {
			port := os.Getenv("PORT")
			if port == "" {
				port = "8080"
			}
			slog.Debug("env", "PORT", port)
			return port
		}(),
		databasePath: func() string {
			path := os.Getenv("DATABASE_PATH")
			if path == "" {
				path = "./sqlite.db"
			}
			if path != ":memory:" {
				path = filepath.Clean(path)
			}
			slog.Debug("env", "DATABASE_PATH", path)
			return path
		}(),
		logLevel: func() slog.Level {
			raw := os.Getenv("LOG_LEVEL")
			if raw == "" {
				raw = "info"
			}
			var level slog.Level
			if err := level.UnmarshalText([]byte(raw)); err != nil {
				slog.Error("invalid LOG_LEVEL", "value", raw, "error", err)
				os.Exit(1)
			}
			slog.Debug("env", "LOG_LEVEL", level)
			return level
		}(),

		location: func() *time.Location {
			timezoneStr := os.Getenv("TIMEZONE")
			var loc *time.Location
			var err error
			switch timezoneStr {
			case "", "UTC":
				loc = time.UTC
			default:
				loc, err = time.LoadLocation(timezoneStr)
				if err != nil {
					slog.Error("invalid timezone", "timezone", timezoneStr, "error", err)
					os.Exit(1)
				}
			}
			slog.Debug("env", "TIMEZONE", loc)
			return loc
		}(),

		horizon: func() time.Duration {
			days := positiveInt("HORIZON_DAYS", recurrence.DefaultHorizonDays)
			return time.Duration(days) * 24 * time.Hour
		}(),
		maxOccurrences: positiveInt("MAX_OCCURRENCES", recurrence.DefaultMaxOccurrences),
		policy: func() conflict.Policy {
			policy := conflict.DefaultPolicy()
			if raw := os.Getenv("BUSINESS_HOURS"); raw != "" {
				start, end, err := conflict.ParseBusinessHours(raw)
				if err != nil {
					slog.Error("invalid BUSINESS_HOURS", "value", raw, "error", err)
					os.Exit(1)
				}
				policy.BusinessStart, policy.BusinessEnd = start, end
			}
			if raw := os.Getenv("MAX_EVENT_DURATION"); raw != "" {
				d, err := time.ParseDuration(raw)
				if err != nil || d <= 0 {
					slog.Error("invalid MAX_EVENT_DURATION", "value", raw, "error", err)
					os.Exit(1)
				}
				policy.MaxDuration = d
			}
			slog.Debug("env", "BUSINESS_HOURS", policy.BusinessHours(), "MAX_EVENT_DURATION", policy.MaxDuration)
			return policy
		}(),

		policyFile:           optionalFile("POLICY_FILE"),
		academicCalendarFile: optionalFile("ACADEMIC_CALENDAR_FILE"),

		horizonCron: func() string {
			spec := strings.TrimSpace(os.Getenv("HORIZON_CRON"))
			if spec == "" {
				spec = "0 3 * * *"
			}
			if _, err := cron.ParseStandard(spec); err != nil {
				slog.Error("invalid HORIZON_CRON", "value", spec, "error", err)
				os.Exit(1)
			}
			slog.Debug("env", "HORIZON_CRON", spec)
			return spec
		}(),
		metricInterval: func() time.Duration {
			raw := os.Getenv("METRIC_INTERVAL")
			if raw == "" {
				raw = "15s"
			}
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				slog.Error("invalid METRIC_INTERVAL", "value", raw, "error", err)
				os.Exit(1)
			}
			slog.Debug("env", "METRIC_INTERVAL", d)
			return d
		}(),
	}
}

func positiveInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		slog.Debug("env", key, fallback)
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		slog.Error("invalid "+key, "value", raw, "error", err)
		os.Exit(1)
	}
	slog.Debug("env", key, n)
	return n
}

// optionalFile returns the cleaned path in key, or "" when unset. A path that
// is set but unreadable is fatal.
func optionalFile(key string) string {
	path := os.Getenv(key)
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil {
		slog.Error("can't get info of "+key, "error", err)
		os.Exit(1)
	}
	if info.IsDir() {
		slog.Error(key+" is a directory", "path", path)
		os.Exit(1)
	}
	slog.Debug("env", key, path)
	return filepath.Clean(path)
}

// Get PORT env, default to 8080
func (c *Config) GetPort() string {
	return c.port
}

// Get DATABASE_PATH env, default to ./sqlite.db
func (c *Config) GetDatabasePath() string {
	return c.databasePath
}

// Get LOG_LEVEL env, default to info
func (c *Config) GetLogLevel() slog.Level {
	return c.logLevel
}

// Get TIMEZONE env; it is the zone natural-language times are read in
func (c *Config) GetLocation() *time.Location {
	return c.location
}

// Get HORIZON_DAYS env as a duration
func (c *Config) GetHorizon() time.Duration {
	return c.horizon
}

// Get MAX_OCCURRENCES env
func (c *Config) GetMaxOccurrences() int {
	return c.maxOccurrences
}

// Get BUSINESS_HOURS and MAX_EVENT_DURATION env as the default policy
func (c *Config) GetPolicy() conflict.Policy {
	return c.policy
}

// Get POLICY_FILE env, "" when unset
func (c *Config) GetPolicyFile() string {
	return c.policyFile
}

// Get ACADEMIC_CALENDAR_FILE env, "" when unset
func (c *Config) GetAcademicCalendarFile() string {
	return c.academicCalendarFile
}

// Get HORIZON_CRON env, default to 03:00 every day
func (c *Config) GetHorizonCron() string {
	return c.horizonCron
}

// Get METRIC_INTERVAL env
func (c *Config) GetMetricInterval() time.Duration {
	return c.metricInterval
}
