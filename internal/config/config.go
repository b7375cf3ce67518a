package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port          string `env:"APP_PORT" validate:"required"`
	Env           string `env:"APP_ENV"`
	LogLevel      string `env:"LOG_LEVEL"`
	DatabaseDSN   string `env:"DATABASE_DSN" validate:"required"`
	RedisAddr     string `env:"REDIS_ADDR" validate:"required"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" validate:"min=0"`
	JWTSecret     string `env:"JWT_SECRET" validate:"required"`
	JWTIssuer     string `env:"JWT_ISSUER"`
	// InstanceID tags presence notifications so an instance skips its own.
	InstanceID  string `env:"INSTANCE_ID"`
	ServiceName string `env:"SERVICE_NAME"`
	// SendBuffer is the outbound queue length of one websocket connection.
	SendBuffer int `env:"WS_SEND_BUFFER" validate:"min=0"`
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("env")
	})
	return v
}()

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int, min int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < min {
		return def
	}
	return v
}

// LoadDotEnv reads a .env file into the environment when one exists.
func LoadDotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}

func Load() Config {
	return Config{
		Port:          getenv("APP_PORT", "8080"),
		Env:           getenv("APP_ENV", "dev"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		DatabaseDSN:   getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatrelay port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0, 0),
		JWTSecret:     getenv("JWT_SECRET", defaultJWTSecret),
		JWTIssuer:     getenv("JWT_ISSUER", "chatrelay"),
		InstanceID:    getenv("INSTANCE_ID", uuid.NewString()),
		ServiceName:   getenv("SERVICE_NAME", "chatrelay"),
		SendBuffer:    getenvInt("WS_SEND_BUFFER", 256, 1),
	}
}

func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			if f.Tag() == "required" {
				return fmt.Errorf("%s must not be empty", f.Field())
			}
			return fmt.Errorf("%s fails %s=%s", f.Field(), f.Tag(), f.Param())
		}
		return err
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set outside dev")
	}
	return nil
}
