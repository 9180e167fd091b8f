package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	Store          string
	SigningKey     []byte
	TokenTTL       time.Duration
	AllowedOrigins []string
	LogLevel       zapcore.Level
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

// ParseOrigins splits a comma separated origin list, dropping blanks.
func ParseOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func NewConfig(serverAddr, databaseDSN, store, base64Secret string, tokenTTL time.Duration, allowedOrigins []string, logLevel string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	if store == "" {
		store = StorePostgres
	}
	switch store {
	case StorePostgres:
		if databaseDSN == "" {
			return nil, fmt.Errorf("database DSN cannot be empty")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unknown store %q", store)
	}

	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if tokenTTL < 0 {
		return nil, fmt.Errorf("token ttl cannot be negative")
	}

	level := zapcore.InfoLevel
	if logLevel != "" {
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		Store:          store,
		SigningKey:     signingKey,
		TokenTTL:       tokenTTL,
		AllowedOrigins: allowedOrigins,
		LogLevel:       level,
	}, nil
}
