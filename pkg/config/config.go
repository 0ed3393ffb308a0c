package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite = "sqlite"
	DriverScylla = "scylla"

	PresenceTable = "table"
	PresenceRedis = "redis"
	PresenceUser  = "user"
)

type Config struct {
	APIAddr     string
	GatewayAddr string

	StoreDriver    string
	SQLitePath     string
	ScyllaHosts    []string
	ScyllaKeyspace string

	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string
	JWTIssuer string
	DevLogin  bool

	PresenceStrategy string
	NodeID           int64

	LogLevel        string
	LogPretty       bool
	ShutdownTimeout time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		APIAddr:          getenv("API_ADDR", ":8081"),
		GatewayAddr:      getenv("GATEWAY_ADDR", ":8080"),
		StoreDriver:      getenv("STORE_DRIVER", DriverSQLite),
		SQLitePath:       getenv("SQLITE_PATH", "chat.db"),
		ScyllaHosts:      split(getenv("SCYLLA_HOSTS", "localhost:9042")),
		ScyllaKeyspace:   getenv("SCYLLA_KEYSPACE", "chat"),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:     split(getenv("KAFKA_BROKERS", "localhost:19092")),
		KafkaTopic:       getenv("KAFKA_TOPIC", "chat-invalidations"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTIssuer:        os.Getenv("JWT_ISSUER"),
		DevLogin:         getbool("DEV_LOGIN", false),
		PresenceStrategy: getenv("PRESENCE_STRATEGY", PresenceTable),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogPretty:        getbool("LOG_PRETTY", false),
		ShutdownTimeout:  30 * time.Second,
	}

	nodeID, err := strconv.ParseInt(getenv("NODE_ID", "1"), 10, 64)
	if err != nil {
		return cfg, fmt.Errorf("NODE_ID: %w", err)
	}
	cfg.NodeID = nodeID

	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case DriverSQLite, DriverScylla:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverScylla, c.StoreDriver)
	}
	switch c.PresenceStrategy {
	case PresenceTable, PresenceRedis, PresenceUser:
	default:
		return fmt.Errorf("PRESENCE_STRATEGY must be one of table, redis, user, got %q", c.PresenceStrategy)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func split(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
