package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	baseURLKey        = "backend.base_url"
	requestTimeoutKey = "backend.request_timeout"
)

type GatewayConfig interface {
	GetBaseURL() string
	GetRequestTimeout() time.Duration
}

type Gateway struct {
	v *viper.Viper
}

var _ GatewayConfig = Gateway{}

// GetBaseURL returns the backend base URL (e.g., "https://api.example.com")
func (g Gateway) GetBaseURL() string {
	return g.v.GetString(baseURLKey)
}

// GetRequestTimeout is fixed by policy; a non-positive override is ignored.
func (g Gateway) GetRequestTimeout() time.Duration {
	d := g.v.GetDuration(requestTimeoutKey)
	if d <= 0 {
		return DefaultRequestTimeout
	}
	return d
}
