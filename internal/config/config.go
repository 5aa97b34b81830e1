// Package config loads the process environment, with local development
// overrides from a .env file when one is present.
package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Load reads .env into the environment. Missing file is fine: production
// injects real environment variables.
func Load() {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("config: could not load .env: %v", err)
		}
		return
	}
	log.Println("config: loaded .env")
}

// Get returns the named environment variable, or def when unset or empty.
func Get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// MustGet returns the named environment variable or exits. Use for secrets
// the server cannot run without.
func MustGet(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("config: %s is required", key)
	}
	return v
}
