// Package config loads and hot-reloads the tunable knobs that shape
// dispatch, geo, fare, and auth behaviour.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the dispatch core.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Dispatch DispatchConfig
	Fare     FareConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds Redis connection settings, used both for the geo index
// and as the optional Redis-backed GeoLocator.
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// DispatchConfig carries the expanding-radius search parameters and the
// geo backend selector. These are the knobs the Background Sweeper and
// Dispatcher read on every cycle, so they're re-read when the config file
// changes rather than captured once at startup.
type DispatchConfig struct {
	GeoBackend          string        `mapstructure:"GEO_BACKEND"` // memory|redis|h3
	InitialRadiusKM     float64       `mapstructure:"DISPATCH_INITIAL_RADIUS_KM"`
	MaxRadiusKM         float64       `mapstructure:"DISPATCH_MAX_RADIUS_KM"`
	RadiusIncrementKM   float64       `mapstructure:"DISPATCH_RADIUS_INCREMENT_KM"`
	OfferTimeout        time.Duration `mapstructure:"DISPATCH_OFFER_TIMEOUT"`
	InterRadiusPause    time.Duration `mapstructure:"DISPATCH_INTER_RADIUS_PAUSE"`
	MaxDispatchTime     time.Duration `mapstructure:"DISPATCH_MAX_TIME"`
	GraceAfterMaxRadius time.Duration `mapstructure:"DISPATCH_GRACE_AFTER_MAX_RADIUS"`
	CaptainCooldown     time.Duration `mapstructure:"DISPATCH_CAPTAIN_COOLDOWN"`
	MaxCandidates       int           `mapstructure:"DISPATCH_MAX_CANDIDATES"`
	LocationStaleAfter  time.Duration `mapstructure:"DISPATCH_LOCATION_STALE_AFTER"`
	SweepInterval       time.Duration `mapstructure:"DISPATCH_SWEEP_INTERVAL"`

	// RestoreWindow is how far back the Event Router looks for a
	// passenger's just-finished, not-yet-rated ride on reconnect, per the
	// reconnect/rehydration contract's second rehydration case. Listed
	// alongside the dispatch knobs since it shares their Config Provider
	// section, not because the Dispatcher reads it.
	RestoreWindow time.Duration `mapstructure:"RESTORE_WINDOW_MIN"`
}

// FareConfig carries the fare-estimate and cancellation-fee knobs used
// when a ride is created or cancelled.
type FareConfig struct {
	BaseFare        float64 `mapstructure:"FARE_BASE"`
	PerKM           float64 `mapstructure:"FARE_PER_KM"`
	PerMinute       float64 `mapstructure:"FARE_PER_MINUTE"`
	Currency        string  `mapstructure:"FARE_CURRENCY"`
	AverageSpeedKPH float64 `mapstructure:"FARE_AVERAGE_SPEED_KPH"`

	// MinFare/MaxFare clamp the estimate; zero disables the corresponding
	// clamp. NightMultiplier/WeekendMultiplier are supplied multipliers
	// applied when the request falls in that window (applying a supplied
	// multiplier is in scope; deciding surge pricing dynamically is not).
	MinFare           float64 `mapstructure:"FARE_MIN"`
	MaxFare           float64 `mapstructure:"FARE_MAX"`
	NightMultiplier   float64 `mapstructure:"FARE_NIGHT_MULT"`
	WeekendMultiplier float64 `mapstructure:"FARE_WEEKEND_MULT"`

	// CancelFreeWindow is how long after a ride is requested a passenger
	// may cancel with no fee; CancellationFee is what's charged past it.
	CancelFreeWindow time.Duration `mapstructure:"FARE_CANCEL_FREE_WINDOW"`
	CancellationFee  float64       `mapstructure:"FARE_CANCELLATION_FEE"`
}

// AuthConfig carries the JWT verification settings.
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"AUTH_JWT_SECRET"`
	JWTIssuer      string        `mapstructure:"AUTH_JWT_ISSUER"`
	TokenTTL       time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	DevIssuerAllow bool          `mapstructure:"AUTH_DEV_ISSUER_ALLOW"`
}

func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Provider serves hot-reloadable config snapshots. Dispatch and fare knobs
// can change between deploys (surge tuning, radius tuning) without a
// restart; Snapshot always returns the most recently loaded values.
type Provider struct {
	mu  sync.RWMutex
	cur *Config
}

// NewProvider loads configuration from environment variables and an
// optional .env file, then watches that file for changes.
func NewProvider() (*Provider, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	setDefaults()

	_ = viper.ReadInConfig()

	p := &Provider{cur: buildConfig()}

	viper.OnConfigChange(func(fsnotify.Event) {
		p.mu.Lock()
		p.cur = buildConfig()
		p.mu.Unlock()
	})
	viper.WatchConfig()

	return p, nil
}

// Snapshot returns the current configuration. Safe for concurrent use.
func (p *Provider) Snapshot() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.cur
}

func setDefaults() {
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "ridedispatch")
	viper.SetDefault("POSTGRES_PASSWORD", "ridedispatch_secret")
	viper.SetDefault("POSTGRES_DB", "ridedispatch")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 20)
	viper.SetDefault("POSTGRES_MIN_CONNS", 2)

	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 50)

	viper.SetDefault("GEO_BACKEND", "memory")
	viper.SetDefault("DISPATCH_INITIAL_RADIUS_KM", 2.0)
	viper.SetDefault("DISPATCH_MAX_RADIUS_KM", 10.0)
	viper.SetDefault("DISPATCH_RADIUS_INCREMENT_KM", 1.0)
	viper.SetDefault("DISPATCH_OFFER_TIMEOUT", "15s")
	viper.SetDefault("DISPATCH_INTER_RADIUS_PAUSE", "5s")
	viper.SetDefault("DISPATCH_MAX_TIME", "300s")
	viper.SetDefault("DISPATCH_GRACE_AFTER_MAX_RADIUS", "30s")
	viper.SetDefault("DISPATCH_CAPTAIN_COOLDOWN", "60s")
	viper.SetDefault("DISPATCH_MAX_CANDIDATES", 20)
	viper.SetDefault("DISPATCH_LOCATION_STALE_AFTER", "90s")
	viper.SetDefault("DISPATCH_SWEEP_INTERVAL", "10s")
	viper.SetDefault("RESTORE_WINDOW_MIN", "30m")

	viper.SetDefault("FARE_BASE", 2.5)
	viper.SetDefault("FARE_PER_KM", 1.1)
	viper.SetDefault("FARE_PER_MINUTE", 0.18)
	viper.SetDefault("FARE_CURRENCY", "USD")
	viper.SetDefault("FARE_AVERAGE_SPEED_KPH", 28.0)
	viper.SetDefault("FARE_MIN", 3.0)
	viper.SetDefault("FARE_MAX", 500.0)
	viper.SetDefault("FARE_NIGHT_MULT", 1.25)
	viper.SetDefault("FARE_WEEKEND_MULT", 1.15)
	viper.SetDefault("FARE_CANCEL_FREE_WINDOW", "120s")
	viper.SetDefault("FARE_CANCELLATION_FEE", 2.0)

	viper.SetDefault("AUTH_JWT_SECRET", "dev-secret-change-me")
	viper.SetDefault("AUTH_JWT_ISSUER", "ridedispatch")
	viper.SetDefault("AUTH_TOKEN_TTL", "24h")
	viper.SetDefault("AUTH_DEV_ISSUER_ALLOW", true)
}

func buildConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         viper.GetString("SERVER_HOST"),
			Port:         viper.GetInt("SERVER_PORT"),
			ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("POSTGRES_HOST"),
			Port:     viper.GetInt("POSTGRES_PORT"),
			User:     viper.GetString("POSTGRES_USER"),
			Password: viper.GetString("POSTGRES_PASSWORD"),
			DBName:   viper.GetString("POSTGRES_DB"),
			SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
			MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
			MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetInt("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
			PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
		},
		Dispatch: DispatchConfig{
			GeoBackend:          viper.GetString("GEO_BACKEND"),
			InitialRadiusKM:     viper.GetFloat64("DISPATCH_INITIAL_RADIUS_KM"),
			MaxRadiusKM:         viper.GetFloat64("DISPATCH_MAX_RADIUS_KM"),
			RadiusIncrementKM:   viper.GetFloat64("DISPATCH_RADIUS_INCREMENT_KM"),
			OfferTimeout:        viper.GetDuration("DISPATCH_OFFER_TIMEOUT"),
			InterRadiusPause:    viper.GetDuration("DISPATCH_INTER_RADIUS_PAUSE"),
			MaxDispatchTime:     viper.GetDuration("DISPATCH_MAX_TIME"),
			GraceAfterMaxRadius: viper.GetDuration("DISPATCH_GRACE_AFTER_MAX_RADIUS"),
			CaptainCooldown:     viper.GetDuration("DISPATCH_CAPTAIN_COOLDOWN"),
			MaxCandidates:       viper.GetInt("DISPATCH_MAX_CANDIDATES"),
			LocationStaleAfter:  viper.GetDuration("DISPATCH_LOCATION_STALE_AFTER"),
			SweepInterval:       viper.GetDuration("DISPATCH_SWEEP_INTERVAL"),
			RestoreWindow:       viper.GetDuration("RESTORE_WINDOW_MIN"),
		},
		Fare: FareConfig{
			BaseFare:          viper.GetFloat64("FARE_BASE"),
			PerKM:             viper.GetFloat64("FARE_PER_KM"),
			PerMinute:         viper.GetFloat64("FARE_PER_MINUTE"),
			Currency:          viper.GetString("FARE_CURRENCY"),
			AverageSpeedKPH:   viper.GetFloat64("FARE_AVERAGE_SPEED_KPH"),
			MinFare:           viper.GetFloat64("FARE_MIN"),
			MaxFare:           viper.GetFloat64("FARE_MAX"),
			NightMultiplier:   viper.GetFloat64("FARE_NIGHT_MULT"),
			WeekendMultiplier: viper.GetFloat64("FARE_WEEKEND_MULT"),
			CancelFreeWindow:  viper.GetDuration("FARE_CANCEL_FREE_WINDOW"),
			CancellationFee:   viper.GetFloat64("FARE_CANCELLATION_FEE"),
		},
		Auth: AuthConfig{
			JWTSecret:      viper.GetString("AUTH_JWT_SECRET"),
			JWTIssuer:      viper.GetString("AUTH_JWT_ISSUER"),
			TokenTTL:       viper.GetDuration("AUTH_TOKEN_TTL"),
			DevIssuerAllow: viper.GetBool("AUTH_DEV_ISSUER_ALLOW"),
		},
	}
}
