package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Encryption  EncryptionConfig
	Credentials CredentialsConfig
	Retry       RetryConfig
	Matching    MatchingConfig
	Ingestion   IngestionConfig
	Provider    ProviderConfig
	Redis       RedisConfig
	Scheduler   SchedulerConfig
	TLS         TLSConfig
	Telemetry   TelemetryConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	Secret string
}

// EncryptionConfig selects the secret vault backend for credential fields.
type EncryptionConfig struct {
	Backend     string // "aead" or "age"
	Key         string
	AgeIdentity string
}

type CredentialsConfig struct {
	PolicyFile string
}

// RetryConfig is the backoff policy applied on every transition into ERROR.
type RetryConfig struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
}

type MatchingConfig struct {
	AmountWeight    float64
	DateWeight      float64
	TextWeight      float64
	HighThreshold   float64
	MediumThreshold float64
	MinScore        float64
	TopN            int
	DateHalfLife    time.Duration
	DateWindow      time.Duration
	AmountTolerance float64
}

type IngestionConfig struct {
	FingerprintWorkers int
	MaxPages           int
	PageSize           int
	DefaultCurrency    string
}

type ProviderConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type SchedulerConfig struct {
	Enabled            bool
	ScheduleTimes      []string
	WorkerCount        int
	JobDelay           time.Duration
	JobTimeout         time.Duration
	QueueSize          int
	RunOnStartup       bool
	RetrySweepInterval time.Duration
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
	SampleRatio  float64
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadDotEnv merges variables from a .env file into the process environment
// without overriding ones that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	for k, v := range values {
		if _, ok := os.LookupEnv(k); !ok {
			os.Setenv(k, v)
		}
	}
	return nil
}

func Load() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	dbMaxOpen, err := getIntEnv("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, err
	}
	dbMaxIdle, err := getIntEnv("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, err
	}
	dbConnLifetime, err := getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	retryBase, err := getDurationEnv("RETRY_BASE_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	retryMax, err := getDurationEnv("RETRY_MAX_INTERVAL", 60*time.Minute)
	if err != nil {
		return nil, err
	}

	matching, err := loadMatching()
	if err != nil {
		return nil, err
	}

	fpWorkers, err := getIntEnv("INGESTION_FINGERPRINT_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	maxPages, err := getIntEnv("INGESTION_MAX_PAGES", 50)
	if err != nil {
		return nil, err
	}
	pageSize, err := getIntEnv("INGESTION_PAGE_SIZE", 200)
	if err != nil {
		return nil, err
	}

	providerTimeout, err := getDurationEnv("PROVIDER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	providerRate, err := getFloatEnv("PROVIDER_RATE_LIMIT", 5)
	if err != nil {
		return nil, err
	}
	providerBurst, err := getIntEnv("PROVIDER_BURST", 5)
	if err != nil {
		return nil, err
	}

	redisDB, err := getIntEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	redisLockTTL, err := getDurationEnv("REDIS_LOCK_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	// Parse scheduler configuration
	schedulerTimes := strings.Split(getEnv("SCHEDULER_TIMES", "05:00,10:00,14:00,20:00"), ",")
	schedulerWorkers, err := getIntEnv("SCHEDULER_WORKERS", 5)
	if err != nil {
		return nil, err
	}
	schedulerJobDelay, err := getDurationEnv("SCHEDULER_JOB_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	schedulerJobTimeout, err := getDurationEnv("SCHEDULER_JOB_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := getIntEnv("SCHEDULER_QUEUE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	retrySweep, err := getDurationEnv("SCHEDULER_RETRY_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	sampleRatio, err := getFloatEnv("OTEL_SAMPLE_RATIO", 1)
	if err != nil {
		return nil, err
	}

	// Parse allowed hosts (comma-separated list)
	var allowedHosts []string
	for _, host := range strings.Split(getEnv("ALLOWED_HOSTS", ""), ",") {
		host = strings.TrimSpace(host)
		if host != "" {
			allowedHosts = append(allowedHosts, host)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: allowedHosts,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "bankrecon"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "bankrecon"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxOpenConns:    dbMaxOpen,
			MaxIdleConns:    dbMaxIdle,
			ConnMaxLifetime: dbConnLifetime,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Encryption: EncryptionConfig{
			Backend:     strings.ToLower(getEnv("VAULT_BACKEND", "aead")),
			Key:         getEnv("ENCRYPTION_KEY", ""),
			AgeIdentity: getEnv("AGE_IDENTITY", ""),
		},
		Credentials: CredentialsConfig{
			PolicyFile: getEnv("CREDENTIAL_POLICY_FILE", ""),
		},
		Retry: RetryConfig{
			BaseInterval: retryBase,
			MaxInterval:  retryMax,
		},
		Matching: matching,
		Ingestion: IngestionConfig{
			FingerprintWorkers: fpWorkers,
			MaxPages:           maxPages,
			PageSize:           pageSize,
			DefaultCurrency:    strings.ToUpper(getEnv("INGESTION_DEFAULT_CURRENCY", "TRY")),
		},
		Provider: ProviderConfig{
			BaseURL:   getEnv("PROVIDER_BASE_URL", "http://localhost:9090"),
			APIKey:    getEnv("PROVIDER_API_KEY", ""),
			Timeout:   providerTimeout,
			RateLimit: providerRate,
			Burst:     providerBurst,
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			LockTTL:  redisLockTTL,
		},
		Scheduler: SchedulerConfig{
			Enabled:            getBoolEnv("SCHEDULER_ENABLED", true),
			ScheduleTimes:      schedulerTimes,
			WorkerCount:        schedulerWorkers,
			JobDelay:           schedulerJobDelay,
			JobTimeout:         schedulerJobTimeout,
			QueueSize:          schedulerQueueSize,
			RunOnStartup:       getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
			RetrySweepInterval: retrySweep,
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv("TLS_ENABLED", false),
			CertPath:     getEnv("TLS_CERT_PATH", ""),
			KeyPath:      getEnv("TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv("TLS_REDIRECT_HTTP", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "bankrecon-api"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9464"),
			SampleRatio:  sampleRatio,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.Encryption.Backend {
	case "aead":
		if c.Encryption.Key == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required")
		}
		if len(c.Encryption.Key) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes")
		}
	case "age":
		if c.Encryption.AgeIdentity == "" {
			return fmt.Errorf("AGE_IDENTITY is required when VAULT_BACKEND=age")
		}
	default:
		return fmt.Errorf("unknown VAULT_BACKEND %q (expected aead or age)", c.Encryption.Backend)
	}

	if c.Retry.BaseInterval <= 0 {
		return fmt.Errorf("RETRY_BASE_INTERVAL must be positive")
	}
	if c.Retry.MaxInterval < c.Retry.BaseInterval {
		return fmt.Errorf("RETRY_MAX_INTERVAL must be >= RETRY_BASE_INTERVAL")
	}

	if c.Ingestion.FingerprintWorkers < 1 {
		return fmt.Errorf("INGESTION_FINGERPRINT_WORKERS must be >= 1")
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1")
	}

	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return nil
}

func loadMatching() (MatchingConfig, error) {
	var m MatchingConfig
	var err error

	floats := []struct {
		key  string
		def  float64
		dest *float64
	}{
		{"MATCH_WEIGHT_AMOUNT", 0.60, &m.AmountWeight},
		{"MATCH_WEIGHT_DATE", 0.25, &m.DateWeight},
		{"MATCH_WEIGHT_TEXT", 0.15, &m.TextWeight},
		{"MATCH_THRESHOLD_HIGH", 0.85, &m.HighThreshold},
		{"MATCH_THRESHOLD_MEDIUM", 0.60, &m.MediumThreshold},
		{"MATCH_MIN_SCORE", 0.30, &m.MinScore},
		{"MATCH_AMOUNT_TOLERANCE", 0.01, &m.AmountTolerance},
	}
	for _, f := range floats {
		if *f.dest, err = getFloatEnv(f.key, f.def); err != nil {
			return m, err
		}
	}

	if m.TopN, err = getIntEnv("MATCH_TOP_N", 5); err != nil {
		return m, err
	}
	if m.DateHalfLife, err = getDurationEnv("MATCH_DATE_HALF_LIFE", 72*time.Hour); err != nil {
		return m, err
	}
	if m.DateWindow, err = getDurationEnv("MATCH_DATE_WINDOW", 30*24*time.Hour); err != nil {
		return m, err
	}
	return m, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
