package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	portEnvVar            = "PORT"
	appNameVar            = "APP_NAME"
	envVar                = "ENV"
	logLevelVar           = "LOG_LEVEL"
	identityServiceURLVar = "IDENTITY_SERVICE_URL"
	backendAPIURLVar      = "BACKEND_API_URL"
	staticFolderVar       = "STATIC_FOLDER"

	EnvDev  = "DEV"
	EnvProd = "PROD"
)

type EnvVars struct {
	Port               string
	AppName            string
	Env                string
	LogLevel           string
	IdentityServiceURL string
	BackendAPIURL      string
	StaticFolder       string
}

var _ EnvConfig = EnvVars{}

func defaultEnvVars() EnvVars {
	return EnvVars{
		Port:               ":8080",
		AppName:            "Hotel Ops",
		Env:                EnvDev,
		LogLevel:           "info",
		IdentityServiceURL: "http://localhost:4000",
		BackendAPIURL:      "http://localhost:4000",
		StaticFolder:       "", // embedded assets
	}
}

func loadEnvVars() EnvVars {
	d := defaultEnvVars()
	identityURL := strings.TrimRight(GetEnv(identityServiceURLVar, d.IdentityServiceURL), "/")
	return EnvVars{
		Port:               normalisePort(GetEnv(portEnvVar, d.Port)),
		AppName:            GetEnv(appNameVar, d.AppName),
		Env:                strings.ToUpper(GetEnv(envVar, d.Env)),
		LogLevel:           GetEnv(logLevelVar, d.LogLevel),
		IdentityServiceURL: identityURL,
		// The dashboard's data API usually lives next to the identity service.
		BackendAPIURL: strings.TrimRight(GetEnv(backendAPIURLVar, identityURL), "/"),
		StaticFolder:  GetEnv(staticFolderVar, d.StaticFolder),
	}
}

func (e EnvVars) GetPort() string               { return e.Port }
func (e EnvVars) GetAppName() string            { return e.AppName }
func (e EnvVars) GetLogLevel() string           { return e.LogLevel }
func (e EnvVars) GetIdentityServiceURL() string { return e.IdentityServiceURL }
func (e EnvVars) GetBackendAPIURL() string      { return e.BackendAPIURL }
func (e EnvVars) GetStaticFolder() string       { return e.StaticFolder }

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return EnvDev
	}
	return e.Env
}

func normalisePort(port string) string {
	if port != "" && port[0] != ':' && !strings.Contains(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvDuration parses a Go duration ("15m", "168h"). Invalid values fall back to the default.
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Warn().Str("var", envVar).Str("value", value).Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}

func GetEnvInt(envVar string, defaultValue int) int {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("var", envVar).Str("value", value).Msg("invalid integer, using default")
		return defaultValue
	}
	return n
}

func GetEnvBool(envVar string, defaultValue bool) bool {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("var", envVar).Str("value", value).Msg("invalid boolean, using default")
		return defaultValue
	}
	return b
}
