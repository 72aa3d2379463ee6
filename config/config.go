package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Logger   LoggerConfig
	Store    StoreConfig
	Postgres PostgresConfig
	JWT      JWTConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Elastic  ElasticsearchConfig
	Jobs     JobsConfig
	Workers  WorkersConfig
	IDGen    IDGenConfig
}

type ServerConfig struct {
	AppEnv         string
	HTTPPort       string
	AllowedOrigins string
	MaxBodyBytes   int64
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
	// Filename enables rotated file output in addition to stdout.
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string
}

type PostgresConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type JWTConfig struct {
	SecretKey string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	InvoiceTopic  string
	OrdersTopic   string
	OrdersGroupID string
}

type ElasticsearchConfig struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
}

type JobsConfig struct {
	NegativeStockSpec string
}

type WorkersConfig struct {
	SideEffectPoolSize int
}

type IDGenConfig struct {
	NodeID int64
}

// LoadEnv reads the configuration from the process environment.
// Callers load .env files beforehand with godotenv.
func LoadEnv() *Config {
	return &Config{
		Server: ServerConfig{
			AppEnv:         getEnv("APP_ENV", "development"),
			HTTPPort:       getEnv("SERVER_PORT", "8080"),
			AllowedOrigins: getEnv("ALLOWED_ORIGINS", ""),
			MaxBodyBytes:   int64(getEnvInt("SERVER_MAX_BODY_BYTES", 1<<20)),
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", "debug"),
			Encoding:          getEnv("LOGGER_ENCODING", "console"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
			Filename:          getEnv("LOGGER_FILE", ""),
			MaxSizeMB:         getEnvInt("LOGGER_FILE_MAX_SIZE_MB", 64),
			MaxBackups:        getEnvInt("LOGGER_FILE_MAX_BACKUPS", 7),
			MaxAgeDays:        getEnvInt("LOGGER_FILE_MAX_AGE_DAYS", 7),
		},
		Store: StoreConfig{
			Driver: getEnv("STORE_DRIVER", "postgres"),
		},
		Postgres: PostgresConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:        getEnvInt("POSTGRES_MIN_CONNS", 0),
			ConnMaxLifetime: time.Duration(getEnvInt("POSTGRES_CONN_MAX_LIFETIME", 300)) * time.Second,
			ConnMaxIdleTime: time.Duration(getEnvInt("POSTGRES_CONN_MAX_IDLE_TIME", 60)) * time.Second,
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      time.Duration(getEnvInt("REDIS_PRODUCTS_TTL", 300)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvSlice("KAFKA_BROKERS", nil),
			InvoiceTopic:  getEnv("KAFKA_TOPIC_INVOICES", "invoice.posted"),
			OrdersTopic:   getEnv("KAFKA_TOPIC_SHOP_ORDERS", "shop.orders"),
			OrdersGroupID: getEnv("KAFKA_GROUP_SHOP_ORDERS", "invoicing"),
		},
		Elastic: ElasticsearchConfig{
			Addresses: getEnvSlice("ELASTICSEARCH_ADDRESSES", nil),
			Username:  getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:  getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:     getEnv("ELASTICSEARCH_PRODUCTS_INDEX", "products"),
		},
		Jobs: JobsConfig{
			NegativeStockSpec: getEnv("JOB_NEGATIVE_STOCK_SPEC", "@every 1h"),
		},
		Workers: WorkersConfig{
			SideEffectPoolSize: getEnvInt("SIDE_EFFECT_POOL_SIZE", 16),
		},
		IDGen: IDGenConfig{
			NodeID: int64(getEnvInt("SNOWFLAKE_NODE_ID", 1)),
		},
	}
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv == "development" || c.Server.AppEnv == "dev"
}

// ValidateServer checks the settings the HTTP server cannot run without.
// An empty JWT secret is tolerated in development only, where every
// protected route then answers 401.
func (c *Config) ValidateServer() error {
	if strings.TrimSpace(c.JWT.SecretKey) == "" && !c.IsDevelopment() {
		return errors.New("JWT_SECRET must be set outside development")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
