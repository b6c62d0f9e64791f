package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvRPCEndpoint = "ARB_RPC_ENDPOINT"
	EnvWSEndpoint  = "ARB_WS_ENDPOINT"
	EnvRedisAddr   = "ARB_REDIS_ADDR"
)

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnvOverrides lets deployment environments override endpoints without
// editing the config file.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvRPCEndpoint); v != "" {
		c.RPCEndpoint = v
	}
	if v := os.Getenv(EnvWSEndpoint); v != "" {
		c.Providers = append([]ProviderConfig{{Name: "env", Endpoint: v, Priority: 0}}, c.Providers...)
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
}
