package env

import (
	"os"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"

	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func SetupEnvFile() {
	// Look for .env file in project root
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/plan5 to project root
		"../../../.env", // Fallback for deeper nesting
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			return
		}
	}

	// Containers usually inject configuration directly.
	log.Warn("[Env] No .env file found, using process environment only")
	Env = map[string]string{}
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}

// Provider hands configuration to components at construction time.
// Require fails with a ConfigurationError when the key is absent or blank.
type Provider interface {
	Require(key string) (string, error)
	Optional(key, def string) string
}

// Source reads the loaded .env map first and the process environment second.
type Source struct{}

func (Source) Require(key string) (string, error) {
	val := strings.TrimSpace(GetEnv(key, ""))
	if val == "" {
		return "", &apperror.ConfigurationError{Key: key}
	}
	return val, nil
}

func (Source) Optional(key, def string) string {
	return GetEnv(key, def)
}

// Static is a fixed key/value Provider, mostly useful in tests.
type Static map[string]string

func (s Static) Require(key string) (string, error) {
	val := strings.TrimSpace(s[key])
	if val == "" {
		return "", &apperror.ConfigurationError{Key: key}
	}
	return val, nil
}

func (s Static) Optional(key, def string) string {
	if val, ok := s[key]; ok && val != "" {
		return val
	}
	return def
}

// Bool parses an optional boolean, falling back to def on absence or garbage.
func Bool(p Provider, key string, def bool) bool {
	raw := strings.TrimSpace(p.Optional(key, ""))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

// Int parses an optional integer, falling back to def on absence or garbage.
func Int(p Provider, key string, def int) int {
	raw := strings.TrimSpace(p.Optional(key, ""))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
