package config

import (
	"os"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

const (
	// EnvironmentDevelopment exposes the canonical development environment
	// identifier for callers outside the config package.
	EnvironmentDevelopment = environmentDevelopment
	// EnvironmentProduction exposes the canonical production environment
	// identifier.
	EnvironmentProduction = environmentProduction
	// EnvironmentStaging exposes the canonical staging environment
	// identifier.
	EnvironmentStaging = environmentStaging
)

var environmentAliases = map[string]string{
	"prod": environmentProduction,
	"stag": environmentStaging,
}

// defaultConfigPath is the file LoadConfig reads when no -config flag is
// passed. Environment specific files override it when APP_ENV selects one.
const defaultConfigPath = "config.yaml"

var envConfigPaths = map[string]string{
	environmentProduction: "config.production.yaml",
	environmentStaging:    "config.staging.yaml",
}

// getAppEnvironment reads the application environment from APP_ENV and
// defaults to development when no value is provided.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// ResolveConfigPath selects the configuration file to load. An explicit path
// always wins; otherwise the environment specific file is chosen when APP_ENV
// names an environment that has one.
func ResolveConfigPath(path string) string {
	if path != "" && path != defaultConfigPath {
		return path
	}

	env := getAppEnvironment()
	if envPath, ok := envConfigPaths[env]; ok {
		return envPath
	}
	if path == "" {
		return defaultConfigPath
	}
	return path
}

// AppEnvironment exposes the current application environment as configured
// through the APP_ENV environment variable. The value is normalised using the
// same alias rules that resolve environment specific files so callers can rely
// on a consistent identifier.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether the provided environment should behave like
// a production deployment. Production-like environments (production and
// staging) run the web viewer in release mode and default to JSON logs.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}
