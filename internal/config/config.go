package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application. Everything is read
// from environment variables so the same binary runs in development
// (with a .env file) and in production.
type Config struct {
	// --- Server & Paths ---
	ServerAddr    string
	DataPath      string
	DbPath        string
	LogDir        string
	Env           string
	PublicBaseURL string

	// --- Document Store ---
	AppID       string
	DatabaseURL string // Postgres DSN. Empty selects the embedded SQLite store.

	// --- Realtime Relay (optional) ---
	RedisAddr     string
	RedisPassword string
	RedisChannel  string

	// --- Security ---
	JwtSecret    string
	TokenTTL     time.Duration
	AdminUserIDs []string

	// --- Behaviour ---
	SignupDedupe bool
	// ClubTimeZone is the IANA zone session dates without an offset are
	// read in, unless the admin's browser sends its own zone.
	ClubTimeZone string

	// --- Email (optional) ---
	SmtpHost     string
	SmtpPort     int
	SmtpUser     string
	SmtpPass     string
	SmtpSender   string
	ResendAPIKey string
	EmailFrom    string

	// --- Parsed & Derived Fields ---
	// ParsedPublicBaseURL is the base of every shared roster link and the
	// allowed CORS/WebSocket origin.
	ParsedPublicBaseURL *url.URL
	// ClubLocation is ClubTimeZone loaded. Nil means the server's zone.
	ClubLocation *time.Location
}

// New creates a Config from environment variables. Critical values are
// validated so the server fails fast instead of running half-configured.
func New() (*Config, error) {
	port, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))

	cfg := &Config{
		ServerAddr:    getenv("SERVER_ADDR", ":8080"),
		DataPath:      getenv("DATA_PATH", "./data"),
		LogDir:        os.Getenv("LOG_DIR"),
		Env:           getenv("APP_ENV", "development"),
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
		AppID:         getenv("APP_ID", "default-app-id"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisChannel:  getenv("REDIS_CHANNEL", "climb:docstore"),
		JwtSecret:     os.Getenv("JWT_SECRET"),
		TokenTTL:      getenvDuration("TOKEN_TTL", 365*24*time.Hour),
		AdminUserIDs:  ParseAdminIDs(os.Getenv("ADMIN_USER_IDS")),
		SignupDedupe:  getenvBool("SIGNUP_DEDUPE", false),
		ClubTimeZone:  os.Getenv("CLUB_TZ"),
		SmtpHost:      os.Getenv("SMTP_HOST"),
		SmtpPort:      port,
		SmtpUser:      os.Getenv("SMTP_USER"),
		SmtpPass:      os.Getenv("SMTP_PASS"),
		SmtpSender:    os.Getenv("SMTP_SENDER"),
		ResendAPIKey:  os.Getenv("RESEND_API_KEY"),
		EmailFrom:     os.Getenv("EMAIL_FROM"),
	}

	if cfg.JwtSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is not set")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("PUBLIC_BASE_URL environment variable is not set")
	}

	parsedURL, err := url.Parse(cfg.PublicBaseURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.New("invalid PUBLIC_BASE_URL format")
	}
	cfg.ParsedPublicBaseURL = parsedURL

	if cfg.ClubTimeZone != "" {
		loc, err := time.LoadLocation(cfg.ClubTimeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid CLUB_TZ: %w", err)
		}
		cfg.ClubLocation = loc
	}

	cfg.DbPath = filepath.Join(cfg.DataPath, "databases")

	return cfg, nil
}

// ParseAdminIDs splits a comma-separated allow-list, trimming whitespace
// and dropping empty entries so a trailing comma never grants access to
// the empty user id.
func ParseAdminIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// OriginURL returns the scheme and host of the public base URL, which is
// what browsers send as the Origin header.
func (c *Config) OriginURL() string {
	return c.ParsedPublicBaseURL.Scheme + "://" + c.ParsedPublicBaseURL.Host
}

// DateLocation is the zone form dates without an offset are read in.
func (c *Config) DateLocation() *time.Location {
	if c.ClubLocation != nil {
		return c.ClubLocation
	}
	return time.Local
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}
