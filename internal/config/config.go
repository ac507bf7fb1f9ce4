package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/docsync/docsync/internal/models"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	OIDC      OIDCConfig
	JWT       JWTConfig
	Quotas    models.Quotas
	RateLimit RateLimitConfig
	Sync      SyncConfig
	Blob      BlobConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type JWTConfig struct {
	Secret      string
	APITokenTTL time.Duration
	SessionTTL  time.Duration
}

// RateLimitConfig covers both the REST middleware limiter and the relay's
// anonymous-peer limits (fixed window, per minute).
type RateLimitConfig struct {
	Enabled        bool
	UseRedis       bool
	RPS            float64
	Burst          int
	WindowSeconds  int
	AnonConnPerMin int
	AnonMsgPerMin  int
}

// SyncConfig holds the websocket relay tunables.
type SyncConfig struct {
	AuthTimeout          time.Duration
	EphemeralIdleTimeout time.Duration
}

// BlobConfig holds chunked-upload and garbage-collection tunables.
type BlobConfig struct {
	DefaultChunkSize int64
	MaxChunkSize     int64
	SessionTTL       time.Duration
	GracePeriod      time.Duration
	GCInterval       time.Duration
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5002")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_DATABASE", "docsync")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("JWT_API_TOKEN_TTL", 525600) // minutes; API tokens are long-lived
	viper.SetDefault("JWT_SESSION_TTL", 120)

	viper.SetDefault("QUOTA_MAX_DOCUMENTS", 500)
	viper.SetDefault("QUOTA_MAX_DOCUMENT_SIZE", 10<<20)
	viper.SetDefault("QUOTA_MAX_TOTAL_STORAGE", 500<<20)
	viper.SetDefault("QUOTA_MAX_BLOB_SIZE", 25<<20)
	viper.SetDefault("QUOTA_MAX_BLOB_STORAGE", 250<<20)

	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_RPS", 50.0)
	viper.SetDefault("RATE_LIMIT_BURST", 100)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	viper.SetDefault("RATE_LIMIT_ANON_CONNECTIONS_PER_MIN", 20)
	viper.SetDefault("RATE_LIMIT_ANON_MESSAGES_PER_MIN", 120)

	viper.SetDefault("SYNC_AUTH_TIMEOUT_SECONDS", 10)
	viper.SetDefault("SYNC_EPHEMERAL_IDLE_TIMEOUT_SECONDS", 30)

	viper.SetDefault("BLOB_DEFAULT_CHUNK_SIZE", 5<<20)
	viper.SetDefault("BLOB_MAX_CHUNK_SIZE", 10<<20)
	viper.SetDefault("BLOB_UPLOAD_SESSION_TTL_HOURS", 24)
	viper.SetDefault("BLOB_GC_GRACE_PERIOD_HOURS", 24)
	viper.SetDefault("BLOB_GC_INTERVAL_MINUTES", 60)

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		MinIO: MinIOConfig{
			Endpoint:  viper.GetString("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    viper.GetBool("MINIO_USE_SSL"),
			Bucket:    getEnv("MINIO_BUCKET", "docsync-blobs"),
		},
		OIDC: OIDCConfig{
			Issuer:   viper.GetString("OIDC_ISSUER"),
			ClientID: viper.GetString("OIDC_CLIENT_ID"),
		},
		JWT: JWTConfig{
			Secret:      os.Getenv("JWT_SECRET"),
			APITokenTTL: time.Duration(viper.GetInt("JWT_API_TOKEN_TTL")) * time.Minute,
			SessionTTL:  time.Duration(viper.GetInt("JWT_SESSION_TTL")) * time.Minute,
		},
		Quotas: models.Quotas{
			MaxDocuments:    viper.GetInt64("QUOTA_MAX_DOCUMENTS"),
			MaxDocumentSize: viper.GetInt64("QUOTA_MAX_DOCUMENT_SIZE"),
			MaxTotalStorage: viper.GetInt64("QUOTA_MAX_TOTAL_STORAGE"),
			MaxBlobSize:     viper.GetInt64("QUOTA_MAX_BLOB_SIZE"),
			MaxBlobStorage:  viper.GetInt64("QUOTA_MAX_BLOB_STORAGE"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:       viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:            viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:          viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds:  viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
			AnonConnPerMin: viper.GetInt("RATE_LIMIT_ANON_CONNECTIONS_PER_MIN"),
			AnonMsgPerMin:  viper.GetInt("RATE_LIMIT_ANON_MESSAGES_PER_MIN"),
		},
		Sync: SyncConfig{
			AuthTimeout:          time.Duration(viper.GetInt("SYNC_AUTH_TIMEOUT_SECONDS")) * time.Second,
			EphemeralIdleTimeout: time.Duration(viper.GetInt("SYNC_EPHEMERAL_IDLE_TIMEOUT_SECONDS")) * time.Second,
		},
		Blob: BlobConfig{
			DefaultChunkSize: viper.GetInt64("BLOB_DEFAULT_CHUNK_SIZE"),
			MaxChunkSize:     viper.GetInt64("BLOB_MAX_CHUNK_SIZE"),
			SessionTTL:       time.Duration(viper.GetInt("BLOB_UPLOAD_SESSION_TTL_HOURS")) * time.Hour,
			GracePeriod:      time.Duration(viper.GetInt("BLOB_GC_GRACE_PERIOD_HOURS")) * time.Hour,
			GCInterval:       time.Duration(viper.GetInt("BLOB_GC_INTERVAL_MINUTES")) * time.Minute,
		},
	}

	// Basic validation
	if cfg.JWT.Secret == "" {
		log.Println("WARNING: JWT_SECRET is not set; set a secure value in production")
	}

	return cfg, nil
}

func getEnv(k, d string) string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	return v
}
