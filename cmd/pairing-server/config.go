package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/evvos/pairing/internal/api/http"
	"github.com/evvos/pairing/internal/auth"
	"github.com/evvos/pairing/internal/db"
	grpcserver "github.com/evvos/pairing/internal/grpc/server"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log     LogConfig
	Http    http.Config
	Grpc    GrpcConfig
	DB      db.Config `mapstructure:"db"`
	Auth    auth.Config
	Crypto  CryptoConfig
	Pairing PairingConfig
	Metrics MetricsConfig
}

type GrpcConfig struct {
	Port int                  `mapstructure:"port"`
	TLS  grpcserver.TLSConfig `mapstructure:"tls"`
}

type CryptoConfig struct {
	CredentialKey string `mapstructure:"credential_key"`
}

type PairingConfig struct {
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	ServiceKeyHashes []string      `mapstructure:"service_key_hashes"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/pairing-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("http.port", 8080)
	viper.SetDefault("grpc.port", 9090)
	viper.SetDefault("pairing.token_ttl", "24h")
	viper.SetDefault("metrics.enabled", true)

	_ = viper.BindEnv("crypto.credential_key", "CREDENTIAL_ENCRYPTION_KEY")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("db.url", "DATABASE_URL")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		redacted := config
		redacted.Auth.JWTSecret = redact(redacted.Auth.JWTSecret)
		redacted.Crypto.CredentialKey = redact(redacted.Crypto.CredentialKey)
		redacted.DB.Url = redact(redacted.DB.Url)
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
