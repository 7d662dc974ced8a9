//go:build integration
// +build integration

package testhelpers

import (
	"database/sql"
	"os"
	"strings"
	"testing"

	_ "github.com/lib/pq"
)

// IntegrationTestConfig holds backend locations for integration tests, read from the environment.
type IntegrationTestConfig struct {
	APIKeys        []string
	DatabaseURL    string
	RedisAddr      string
	MemcachedAddrs string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Unset backends default to their localhost ports; unset keys and DATABASE_URL stay empty.
func GetIntegrationConfig() IntegrationTestConfig {
	raw := os.Getenv("WEATHER_API_KEYS")
	if raw == "" {
		raw = os.Getenv("WEATHER_API_KEY")
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	memcachedAddrs := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddrs == "" {
		memcachedAddrs = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKeys:        keys,
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      redisAddr,
		MemcachedAddrs: memcachedAddrs,
	}
}

// RequireAPIKeys returns the provider keys or skips the test when none are set.
func RequireAPIKeys(t *testing.T) []string {
	t.Helper()
	keys := GetIntegrationConfig().APIKeys
	if len(keys) == 0 {
		t.Skip("WEATHER_API_KEYS not set, skipping integration test")
	}
	return keys
}

// OpenPostgres connects to DATABASE_URL or skips the test. The handle is closed on cleanup.
func OpenPostgres(t *testing.T) *sql.DB {
	t.Helper()
	dsn := GetIntegrationConfig().DatabaseURL
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Ping(); err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	return db
}
