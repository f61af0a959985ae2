package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config interface {
	EnvConfig
	GatewayConfig
	StorageConfig
	RoutesConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Gateway
	Storage
	Routes
}

var _ Config = mainConfig{}

// Override pins a key after the environment and file have been read.
type Override func(v *viper.Viper)

// Set overrides key with value. Empty strings are ignored so unset CLI flags
// can be passed straight through.
func Set(key string, value any) Override {
	return func(v *viper.Viper) {
		if s, ok := value.(string); ok && s == "" {
			return
		}
		v.Set(key, value)
	}
}

// New loads configuration from ELEARN_* environment variables and an optional
// config.yaml found in the working directory or ./config.
func New(overrides ...Override) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(keyReplacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("[config.New] read config: %w", err)
		}
	}
	for _, o := range overrides {
		o(v)
	}
	return FromViper(v), nil
}

// FromViper wraps an already populated viper instance. Missing keys fall back
// to the package defaults.
func FromViper(v *viper.Viper) Config {
	setDefaults(v)
	return mainConfig{
		EnvVars: EnvVars{v: v},
		Gateway: Gateway{v: v},
		Storage: Storage{v: v},
		Routes:  Routes{v: v},
	}
}
