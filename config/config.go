package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Log       LogConfig
	Tracing   TracingConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Contract  ContractConfig
	Signer    SignerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Events    EventsConfig
	Devnet    DevnetConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Version     string
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

type RateLimitConfig struct {
	// Global rate limit per client IP
	RequestsPerSecond float64
	BurstSize         int
}

// ContractConfig locates the PatientRecord contract and the node that serves it.
type ContractConfig struct {
	Address string
	Name    string
	Network string // mainnet, testnet or devnet
	NodeURL string

	RequestTimeout time.Duration
	// Settlement polling bounds
	PollAttempts int
	PollInterval time.Duration

	NodeRequestsPerSecond float64
	NodeBurst             int
	BreakerFailures       uint32
	BreakerOpenTimeout    time.Duration
}

// ContractID renders ADDRESS.name.
func (c ContractConfig) ContractID() string {
	return c.Address + "." + c.Name
}

// SignerConfig points at the wallet-signing service that holds the user's keys.
type SignerConfig struct {
	URL      string
	Secret   string
	Issuer   string
	Audience string
	TokenTTL time.Duration
	Timeout  time.Duration
}

type StoreConfig struct {
	Backend string // ipfs, s3, leveldb or memory
	IPFS    IPFSConfig
	S3      S3Config
	LevelDB LevelDBConfig
	// EncryptionKey is a hex-encoded 32-byte XChaCha20-Poly1305 key. Empty disables encryption.
	EncryptionKey string
}

func (s StoreConfig) Key() ([]byte, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("STORE_ENCRYPTION_KEY is not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("STORE_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

type IPFSConfig struct {
	APIURL        string
	ProjectID     string
	ProjectSecret string
	Timeout       time.Duration
	Pin           bool
}

type S3Config struct {
	Bucket       string
	Region       string
	Prefix       string
	Endpoint     string // S3-compatible stores such as MinIO
	UsePathStyle bool
}

type LevelDBConfig struct {
	Path string
}

// DatabaseConfig is used for audit log persistence. Auditing stays in-process when Enabled is false.
type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

type EventsConfig struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// DevnetConfig drives the in-process ledger used by `serve --devnet` and tests.
type DevnetConfig struct {
	Enabled bool
	// Wallet is the account the devnet session signs in as.
	Wallet       string
	WalletName   string
	WalletRole   string
	PendingPolls int
}

// Load reads the environment, optionally seeded from .env-style files.
// Missing files are ignored; variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "securehealth"),
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "0.0.0"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "127.0.0.1"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputPath: getEnv("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "securehealth"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "X-Request-ID", "X-SecureHealth-Client"}),
			MaxAge:         getEnvDuration("CORS_MAX_AGE", 12*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 20),
			BurstSize:         getEnvInt("RATE_LIMIT_BURST", 40),
		},
		Contract: ContractConfig{
			Address:               getEnv("CONTRACT_ADDRESS", "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"),
			Name:                  getEnv("CONTRACT_NAME", "PatientRecord"),
			Network:               getEnv("STACKS_NETWORK", "testnet"),
			NodeURL:               getEnv("STACKS_NODE_URL", "https://api.testnet.hiro.so"),
			RequestTimeout:        getEnvDuration("STACKS_REQUEST_TIMEOUT", 20*time.Second),
			PollAttempts:          getEnvInt("TX_POLL_ATTEMPTS", 30),
			PollInterval:          getEnvDuration("TX_POLL_INTERVAL", 2*time.Second),
			NodeRequestsPerSecond: getEnvFloat("STACKS_NODE_RPS", 10),
			NodeBurst:             getEnvInt("STACKS_NODE_BURST", 20),
			BreakerFailures:       uint32(getEnvInt("STACKS_BREAKER_FAILURES", 5)),
			BreakerOpenTimeout:    getEnvDuration("STACKS_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Signer: SignerConfig{
			URL:      getEnv("SIGNER_URL", "http://localhost:9090"),
			Secret:   getEnv("SIGNER_SECRET", ""),
			Issuer:   getEnv("SIGNER_ISSUER", "securehealth"),
			Audience: getEnv("SIGNER_AUDIENCE", "securehealth-signer"),
			TokenTTL: getEnvDuration("SIGNER_TOKEN_TTL", time.Minute),
			Timeout:  getEnvDuration("SIGNER_TIMEOUT", 2*time.Minute),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "ipfs"),
			IPFS: IPFSConfig{
				APIURL:        getEnv("IPFS_API_URL", "https://ipfs.infura.io:5001"),
				ProjectID:     getEnv("IPFS_PROJECT_ID", ""),
				ProjectSecret: getEnv("IPFS_PROJECT_SECRET", ""),
				Timeout:       getEnvDuration("IPFS_TIMEOUT", 60*time.Second),
				Pin:           getEnvBool("IPFS_PIN", true),
			},
			S3: S3Config{
				Bucket:       getEnv("S3_BUCKET", ""),
				Region:       getEnv("AWS_REGION", "us-east-1"),
				Prefix:       getEnv("S3_PREFIX", "securehealth/"),
				Endpoint:     getEnv("S3_ENDPOINT", ""),
				UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),
			},
			LevelDB: LevelDBConfig{
				Path: getEnv("LEVELDB_PATH", "./data/content"),
			},
			EncryptionKey: getEnv("STORE_ENCRYPTION_KEY", ""),
		},
		Database: DatabaseConfig{
			Enabled:         getEnvBool("AUDIT_DB_ENABLED", false),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "securehealth"),
			User:            getEnv("DB_USER", "securehealth"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSLMODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Events: EventsConfig{
			Enabled:      getEnvBool("EVENTS_ENABLED", false),
			Brokers:      getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:        getEnv("KAFKA_TOPIC", "securehealth.lifecycle"),
			BatchTimeout: getEnvDuration("KAFKA_BATCH_TIMEOUT", 50*time.Millisecond),
		},
		Devnet: DevnetConfig{
			Enabled:      getEnvBool("DEVNET_ENABLED", false),
			Wallet:       getEnv("DEVNET_WALLET", "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"),
			WalletName:   getEnv("DEVNET_WALLET_NAME", ""),
			WalletRole:   getEnv("DEVNET_WALLET_ROLE", ""),
			PendingPolls: getEnvInt("DEVNET_PENDING_POLLS", 1),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Contract.Address == "" || cfg.Contract.Name == "" {
		errs = append(errs, "CONTRACT_ADDRESS and CONTRACT_NAME are required")
	}
	switch cfg.Contract.Network {
	case "mainnet", "testnet", "devnet":
	default:
		errs = append(errs, "STACKS_NETWORK must be one of mainnet, testnet, devnet")
	}
	for _, o := range cfg.CORS.AllowedOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			errs = append(errs, fmt.Sprintf("CORS_ALLOWED_ORIGINS entry %q must be * or an http(s) origin", o))
		}
	}
	if cfg.Contract.PollAttempts <= 0 {
		errs = append(errs, "TX_POLL_ATTEMPTS must be positive")
	}
	if cfg.Contract.PollInterval <= 0 {
		errs = append(errs, "TX_POLL_INTERVAL must be positive")
	}

	if !cfg.Devnet.Enabled {
		if cfg.Contract.NodeURL == "" {
			errs = append(errs, "STACKS_NODE_URL is required")
		}
		if cfg.Signer.Secret == "" {
			errs = append(errs, "SIGNER_SECRET is required unless DEVNET_ENABLED=true")
		} else if len(cfg.Signer.Secret) < 32 && cfg.App.Environment == "production" {
			errs = append(errs, "SIGNER_SECRET must be at least 32 characters in production")
		}
	}

	switch cfg.Store.Backend {
	case "ipfs":
		if cfg.Store.IPFS.APIURL == "" {
			errs = append(errs, "IPFS_API_URL is required for STORE_BACKEND=ipfs")
		}
	case "s3":
		if cfg.Store.S3.Bucket == "" {
			errs = append(errs, "S3_BUCKET is required for STORE_BACKEND=s3")
		}
	case "leveldb":
		if cfg.Store.LevelDB.Path == "" {
			errs = append(errs, "LEVELDB_PATH is required for STORE_BACKEND=leveldb")
		}
	case "memory":
		if cfg.App.Environment == "production" {
			errs = append(errs, "STORE_BACKEND=memory is not allowed in production")
		}
	default:
		errs = append(errs, "STORE_BACKEND must be one of ipfs, s3, leveldb, memory")
	}
	if _, err := cfg.Store.Key(); err != nil {
		errs = append(errs, err.Error())
	}

	if cfg.Database.Enabled {
		if cfg.Database.Password == "" && cfg.App.Environment != "development" {
			errs = append(errs, "DB_PASSWORD is required in non-development environments")
		}
		if cfg.Database.SSLMode == "disable" && cfg.App.Environment == "production" {
			errs = append(errs, "DB_SSLMODE=disable is not allowed in production")
		}
	}

	if cfg.Events.Enabled && (len(cfg.Events.Brokers) == 0 || cfg.Events.Topic == "") {
		errs = append(errs, "KAFKA_BROKERS and KAFKA_TOPIC are required when EVENTS_ENABLED=true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
