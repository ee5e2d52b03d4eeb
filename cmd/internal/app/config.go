package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Backend endpoints.
	APIBaseURL string
	LoginURL   string

	// State store selection: DatabaseURL wins over StateDir; an empty
	// StateDir falls back to in-memory (dev only).
	StateDir        string
	StateSealKeyHex string
	DatabaseURL     string
	DBMaxConns      int32
	DBMinConns      int32

	// Signal transport: DatabaseURL implies the Postgres bus; otherwise
	// SignalWSURL selects the websocket relay; otherwise in-process only.
	SignalWSURL string

	// Session policy.
	HydrateMaxTries uint
	FetchTimeout    time.Duration

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, CLAVERO_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and token
	// fingerprinting must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("CLAVERO_HTTP_ADDR", "127.0.0.1:8180"),
		LogLevel:  EnvString("CLAVERO_LOG_LEVEL", "info"),
		LogPretty: EnvBool("CLAVERO_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("CLAVERO_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CLAVERO_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CLAVERO_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CLAVERO_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("CLAVERO_HTTP_MAX_HEADER_BYTES", 1<<20),

		APIBaseURL: EnvString("CLAVERO_API_BASE_URL", "http://127.0.0.1:8080"),
		LoginURL:   EnvString("CLAVERO_LOGIN_URL", "http://127.0.0.1:8080/login/"),

		StateDir:        EnvString("CLAVERO_STATE_DIR", ""),
		StateSealKeyHex: EnvString("CLAVERO_STATE_SEAL_KEY_HEX", ""),
		DatabaseURL:     EnvString("CLAVERO_DATABASE_URL", ""),
		DBMaxConns:      EnvInt32("CLAVERO_DB_MAX_CONNS", 5),
		DBMinConns:      EnvInt32("CLAVERO_DB_MIN_CONNS", 0),

		SignalWSURL: EnvString("CLAVERO_SIGNAL_WS_URL", ""),

		HydrateMaxTries: EnvUint("CLAVERO_HYDRATE_MAX_TRIES", 3),
		FetchTimeout:    EnvDuration("CLAVERO_FETCH_TIMEOUT", 10*time.Second),

		ReadinessRequireDB: EnvBool("CLAVERO_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("CLAVERO_REQUIRE_TOKEN_HMAC", false),
	}
}
