package config

import "github.com/spf13/viper"

const (
	loginRouteKey     = "routes.login"
	dashboardRouteKey = "routes.dashboard"
)

// RoutesConfig names the UI routes the session core redirects to.
type RoutesConfig interface {
	GetLoginRoute() string
	GetDashboardRoute() string
}

type Routes struct {
	v *viper.Viper
}

var _ RoutesConfig = Routes{}

func (r Routes) GetLoginRoute() string {
	return r.v.GetString(loginRouteKey)
}

func (r Routes) GetDashboardRoute() string {
	return r.v.GetString(dashboardRouteKey)
}
