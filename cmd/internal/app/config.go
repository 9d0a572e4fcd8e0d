package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" (default) or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisURL string

	// Upper bound applied to every external-store call made while routing.
	StoreTimeout time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true:
	// - /readyz returns 503 unless every configured backend is reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, COURIER_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and register
	// tokens are verified instead of accepted blindly.
	RequireRegisterHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("COURIER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("COURIER_LOG_LEVEL", "info"),
		LogFormat: EnvString("COURIER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("COURIER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("COURIER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("COURIER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("COURIER_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("COURIER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("COURIER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("COURIER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("COURIER_DB_MIN_CONNS", 0),

		RedisURL: EnvString("COURIER_REDIS_URL", ""),

		StoreTimeout: EnvDuration("COURIER_STORE_TIMEOUT", 3*time.Second),

		CORSAllowedOrigins:   EnvCSV("COURIER_CORS_ALLOWED_ORIGINS", ""),
		CORSAllowCredentials: EnvBool("COURIER_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("COURIER_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("COURIER_READINESS_REQUIRE_DB", false),

		RequireRegisterHMAC: EnvBool("COURIER_REQUIRE_REGISTER_HMAC", false),
	}
}
