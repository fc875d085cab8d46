package config

import (
	"fmt"
	"time"

	"wavelink-backend/pkg/constants"
	"wavelink-backend/pkg/env"
)

// Config contains environment-driven settings for the signaling service
type Config struct {
	Env  string
	Port string

	DBHost    string
	DBPort    int
	DBUser    string
	DBName    string
	DBSSLMode string

	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPoolSize int

	JWTSecret string

	InviteTimeout     time.Duration
	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
}

// Load reads configuration from the environment (or Docker secrets via *_FILE)
func Load() *Config {
	return &Config{
		Env:  env.GetString("ENV", "development"),
		Port: env.GetString("PORT", "8084"),

		DBHost:    env.GetString("DB_HOST", "localhost"),
		DBPort:    env.GetInt("DB_PORT", 26257),
		DBUser:    env.GetString("DB_USER", "root"),
		DBName:    env.GetString("DB_NAME", "wavelink"),
		DBSSLMode: env.GetString("DB_SSLMODE", "disable"),

		RedisHost:     env.GetString("REDIS_HOST", "localhost"),
		RedisPort:     env.GetInt("REDIS_PORT", 6379),
		RedisDB:       env.GetInt("REDIS_DB", 0),
		RedisPoolSize: env.GetInt("REDIS_POOL_SIZE", 10),

		JWTSecret: env.GetStringFromFile("JWT_SECRET", ""),

		InviteTimeout:     env.GetDuration("INVITE_TIMEOUT", constants.InviteTimeout),
		HeartbeatInterval: env.GetDuration("HEARTBEAT_INTERVAL", constants.HeartbeatInterval),
		PresenceTTL:       env.GetDuration("PRESENCE_TTL", constants.PresenceTTL),
	}
}

// DBConnectionString returns the connection string for CockroachDB
func (c *Config) DBConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBName, c.DBSSLMode)
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
