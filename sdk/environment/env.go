// Package environment provides support for env vars: loading .env files
// and filling configuration structs from prefixed environment variables.
package environment

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv loads environment variables from a .env file. An empty path
// loads ./.env.
func LoadEnv(p string) error {
	if p == "" {
		return godotenv.Load()
	}
	return godotenv.Load(p)
}

// GetEnvOrDefault retrieves an environment variable value, returning the
// fallback when the variable is not set.
func GetEnvOrDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvKeyPrefix joins a prefix and key with an underscore. An empty
// prefix returns the key unchanged.
func GetEnvKeyPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return fmt.Sprintf("%s_%s", prefix, key)
}

// GetPrefixEnvOrDefault retrieves a prefixed environment variable value,
// returning the fallback when the variable is not set.
func GetPrefixEnvOrDefault(prefix, key, fallback string) string {
	return GetEnvOrDefault(GetEnvKeyPrefix(prefix, key), fallback)
}

// GetPrefixEnv retrieves the value of a prefixed environment variable,
// empty when unset.
func GetPrefixEnv(prefix, key string) string {
	return os.Getenv(GetEnvKeyPrefix(prefix, key))
}
