package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evvos/pairing/internal/api/http"
	"github.com/evvos/pairing/internal/device"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log     LogConfig
	Http    http.Config
	Device  device.Config
	Backend device.BackendConfig
	MDNS    device.MDNSConfig `mapstructure:"mdns"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/pairing-agent")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("http.port", 80)
	viper.SetDefault("device.join_attempts", device.DefaultJoinAttempts)
	viper.SetDefault("device.join_interval", device.DefaultJoinInterval)
	viper.SetDefault("device.settle_delay", device.DefaultSettleDelay)
	viper.SetDefault("backend.timeout", device.DefaultBackendTimeout)
	viper.SetDefault("mdns.enabled", true)

	_ = viper.BindEnv("backend.service_key", "DEVICE_SERVICE_KEY")
	_ = viper.BindEnv("backend.finish_url", "BACKEND_FINISH_URL")

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
		if redacted.Backend.ServiceKey != "" {
			redacted.Backend.ServiceKey = "***"
		}
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
