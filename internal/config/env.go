package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ServerEnv is the environment read by `rosterline serve`.
type ServerEnv struct {
	Addr      string `env:"ROSTERLINE_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath  string `env:"ROSTERLINE_BASE_PATH" envDefault:"/v0"`
	JWTSecret string `env:"ROSTERLINE_JWT_SECRET"`
	LogLevel  string `env:"ROSTERLINE_LOG_LEVEL" envDefault:"info"`
	DevLogin  bool   `env:"ROSTERLINE_DEV_LOGIN" envDefault:"false"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func LoadServerEnv() (ServerEnv, error) {
	var e ServerEnv
	if err := ParseEnv(&e); err != nil {
		return ServerEnv{}, err
	}
	return e, nil
}
