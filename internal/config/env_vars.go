package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "ELEARN"

var keyReplacer = strings.NewReplacer(".", "_")

const (
	appNameKey  = "app.name"
	envKey      = "app.env"
	logLevelKey = "app.log_level"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault(appNameKey, "eLearn Session")
	v.SetDefault(envKey, "DEV")
	v.SetDefault(logLevelKey, "info")

	v.SetDefault(baseURLKey, "http://localhost:8080")
	v.SetDefault(requestTimeoutKey, DefaultRequestTimeout)

	v.SetDefault(storageDriverKey, StorageDriverFile)
	v.SetDefault(storagePathKey, "./data/session.json")
	v.SetDefault(redisAddrKey, "localhost:6379")
	v.SetDefault(redisDBKey, 0)
	v.SetDefault(redisPrefixKey, "elearn:")

	v.SetDefault(loginRouteKey, "/login")
	v.SetDefault(dashboardRouteKey, "/dashboard")
}

type EnvVars struct {
	v *viper.Viper
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.v.GetString(appNameKey)
}

func (e EnvVars) GetEnv() string {
	env := e.v.GetString(envKey)
	if env == "" {
		return "DEV"
	}
	return env
}

func (e EnvVars) GetLogLevel() string {
	return e.v.GetString(logLevelKey)
}

// DefaultRequestTimeout bounds every backend call made by the gateway.
const DefaultRequestTimeout = 10 * time.Second
