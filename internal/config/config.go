package config // package config loads application configuration from environment variables

import (
	"fmt"
	"os"      // os provides access to environment variables
	"strings"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env             string // application environment (e.g. "dev", "prod")
	Port            string // HTTP port to listen on
	StoreDriver     string // mysql | memory
	DBUser          string // database username
	DBPass          string // database password (optional)
	DBHost          string // database host address
	DBPort          string // database port number
	DBName          string // database name
	DBMigrate       bool   // apply the embedded schema on start
	JWTSecret       string // secret used to verify JWTs
	AMQPURL         string // RabbitMQ URL; empty disables booking events
	ConsumerEnabled bool   // run the booking event consumer in-process
	BookingLogDir   string // directory of booking.log written by the consumer
	LogLevel        string // debug | info | warn | error
}

// Load reads configuration values from environment variables.  Missing
// required variables are reported together in a single error.
func Load() (Config, error) {
	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:             envStr("APP_ENV", "dev"),
		Port:            envStr("APP_PORT", "8080"),
		StoreDriver:     strings.ToLower(envStr("STORE_DRIVER", DriverMySQL)),
		JWTSecret:       must("JWT_SECRET"),
		AMQPURL:         os.Getenv("AMQP_URL"),
		ConsumerEnabled: envBool("BOOKING_CONSUMER_ENABLED", false),
		BookingLogDir:   envStr("BOOKING_LOG_DIR", "logs"),
		LogLevel:        envStr("LOG_LEVEL", "info"),
	}
	switch cfg.StoreDriver {
	case DriverMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS") // empty allowed
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = envStr("DB_PORT", "3306")
		cfg.DBName = must("DB_NAME")
		cfg.DBMigrate = envBool("DB_MIGRATE", true)
	case DriverMemory:
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env var(s): %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}
