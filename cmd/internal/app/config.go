package app

import "time"

// Config is the process-level configuration. Session, CSRF and gateway
// settings load in their own packages.
type Config struct {
	Env       string
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	// WriteTimeout applies to plain HTTP only; zero leaves WebSocket
	// connections without a server write deadline.
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// Empty DatabaseURL selects in-memory stores and the in-process bus.
	DatabaseURL   string
	DBSchema      string
	DBMaxConns    int32
	DBMinConns    int32
	DBAutoMigrate bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	ShutdownTimeout time.Duration

	BusBuffer     int
	BusSlowPolicy string
	BusChannel    string

	// AttemptsShared moves the sign-in attempt window into Postgres so every
	// instance enforces the same limit.
	AttemptsShared bool

	APIRatePerMinute   int
	CSRFSkipValidation bool
	// TrustProxy takes client addresses from X-Forwarded-For/X-Real-IP.
	TrustProxy bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	HeartbeatEvery time.Duration
	TypingDelay    time.Duration
}

// LoadConfig reads CODETALK_* variables with defaults.
func LoadConfig() Config {
	return Config{
		Env:       EnvString("CODETALK_ENV", "development"),
		HTTPAddr:  EnvString("CODETALK_HTTP_ADDR", "0.0.0.0:4000"),
		LogLevel:  EnvString("CODETALK_LOG_LEVEL", "info"),
		LogFormat: EnvString("CODETALK_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CODETALK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CODETALK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CODETALK_HTTP_WRITE_TIMEOUT", 0),
		IdleTimeout:       EnvDuration("CODETALK_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("CODETALK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("CODETALK_DATABASE_URL", ""),
		DBSchema:      EnvString("CODETALK_DB_SCHEMA", "codetalk"),
		DBMaxConns:    EnvInt32("CODETALK_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("CODETALK_DB_MIN_CONNS", 0),
		DBAutoMigrate: EnvBool("CODETALK_DB_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("CODETALK_READINESS_REQUIRE_DB", false),

		ShutdownTimeout: EnvDuration("CODETALK_SHUTDOWN_TIMEOUT", 30*time.Second),

		BusBuffer:     EnvInt("CODETALK_BUS_BUFFER", 256),
		BusSlowPolicy: EnvString("CODETALK_BUS_SLOW_POLICY", "drop_oldest"),
		BusChannel:    EnvString("CODETALK_BUS_CHANNEL", "codetalk_events"),

		AttemptsShared: EnvBool("CODETALK_AUTH_ATTEMPTS_SHARED", false),

		APIRatePerMinute:   EnvInt("CODETALK_API_RATE_PER_MIN", 100),
		CSRFSkipValidation: EnvBool("CODETALK_CSRF_SKIP_VALIDATION", false),
		TrustProxy:         EnvBool("CODETALK_TRUST_PROXY", false),

		CORSAllowedOrigins:   EnvCSV("CODETALK_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("CODETALK_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("CODETALK_CORS_MAX_AGE", 600),

		HeartbeatEvery: EnvDuration("CODETALK_HEARTBEAT_INTERVAL", 30*time.Second),
		TypingDelay:    EnvDuration("CODETALK_TYPING_DELAY", 16*time.Millisecond),
	}
}

// Production reports whether CODETALK_ENV selects production.
func (c Config) Production() bool { return c.Env == "production" }
