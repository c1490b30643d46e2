package config

type Config interface {
	EnvConfig
	CorsConfig
	SessionConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetIdentityServiceURL() string
	GetBackendAPIURL() string
	GetStaticFolder() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

// Settings is the resolved configuration. New loads it from the environment;
// tests build one from Defaults and override fields.
type Settings struct {
	EnvVars
	Cors
	Session
	Security
}

var _ Config = Settings{}

func New() Config {
	return Settings{
		EnvVars:  loadEnvVars(),
		Cors:     loadCors(),
		Session:  loadSession(),
		Security: loadSecurity(),
	}
}

// Defaults returns the settings used when no environment variables are set.
func Defaults() Settings {
	return Settings{
		EnvVars:  defaultEnvVars(),
		Cors:     defaultCors(),
		Session:  defaultSession(),
		Security: defaultSecurity(),
	}
}
