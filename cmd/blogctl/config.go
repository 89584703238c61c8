package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/authgateway/internal/gateway"
	"github.com/nkiryanov/authgateway/internal/logger"
)

const (
	defaultAPIURL       = "http://localhost:8080/api"
	defaultProfile      = "admin"
	defaultStore        = StoreFile
	defaultLoggingLevel = logger.LevelWarn
	defaultEnvironment  = logger.EnvProduction
)

// Durable session storages
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment
	Environment string

	// Base URL of the blog API
	APIURL string

	// API flavour: admin or site
	Profile string

	// Where the session is kept between runs
	Store string

	// Session file for 'file' store. User config dir is used if empty
	StoreFile string

	// Redis address for 'redis' store
	RedisAddr string

	// Database to connect to for 'postgres' store
	DatabaseDSN string

	// Access token expiring within the window is renewed before request
	NearExpiry time.Duration

	// Time budget of token renewal
	RenewTimeout time.Duration

	// Time budget of a single API request
	RequestTimeout time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:       defaultLoggingLevel,
		Environment:    defaultEnvironment,
		APIURL:         defaultAPIURL,
		Profile:        defaultProfile,
		Store:          defaultStore,
		NearExpiry:     gateway.DefaultNearExpiry,
		RenewTimeout:   gateway.DefaultRenewTimeout,
		RequestTimeout: gateway.DefaultRequestTimeout,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	var errs []error

	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setDuration := func(key string, o *time.Duration) func(value string) {
		return func(value string) {
			if value == "" {
				return
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*o = d
		}
	}

	envMap := map[string]func(string){
		"BLOG_API_URL":    setString(&c.APIURL),
		"BLOG_PROFILE":    setString(&c.Profile),
		"STORE":           setString(&c.Store),
		"STORE_FILE":      setString(&c.StoreFile),
		"REDIS_ADDR":      setString(&c.RedisAddr),
		"DATABASE_URI":    setString(&c.DatabaseDSN),
		"NEAR_EXPIRY":     setDuration("NEAR_EXPIRY", &c.NearExpiry),
		"RENEW_TIMEOUT":   setDuration("RENEW_TIMEOUT", &c.RenewTimeout),
		"REQUEST_TIMEOUT": setDuration("REQUEST_TIMEOUT", &c.RequestTimeout),
		"LOG_LEVEL":       setString(&c.LogLevel),
		"ENVIRONMENT":     setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}

	return errors.Join(errs...)
}

// ParseFlags parses flags before the command and returns the command with its arguments
func (c *Config) ParseFlags(args []string) ([]string, error) {
	fs := pflag.NewFlagSet("blogctl", pflag.ContinueOnError)
	fs.SetInterspersed(false)

	fs.StringVarP(&c.APIURL, "api", "a", c.APIURL, "Blog API base URL")
	fs.StringVarP(&c.Profile, "profile", "p", c.Profile, "API profile (admin, site)")
	fs.StringVarP(&c.Store, "store", "s", c.Store, "Session store (memory, file, redis, postgres)")
	fs.StringVar(&c.StoreFile, "store-file", c.StoreFile, "Session file for file store")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for redis store")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string for postgres store")
	fs.DurationVar(&c.NearExpiry, "near-expiry", c.NearExpiry, "Renew access token expiring within the window")
	fs.DurationVar(&c.RenewTimeout, "renew-timeout", c.RenewTimeout, "Token renewal timeout")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "API request timeout")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

// Session file path, defaults to user config dir
func (c *Config) sessionFile() (string, error) {
	if c.StoreFile != "" {
		return c.StoreFile, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("session file is not set and user config dir unknown: %w", err)
	}
	return filepath.Join(dir, "blogctl", "session.json"), nil
}
