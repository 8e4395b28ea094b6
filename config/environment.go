package config

import (
	"os"
	"strings"
)

const (
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

// Environment variables consulted in order when resolving the deployment
// environment.
var envVars = []string{"CFDFEED_ENV", "APP_ENV"}

var environmentAliases = map[string]string{
	"dev":  environmentDevelopment,
	"prod": environmentProduction,
	"stag": environmentStaging,
}

func getAppEnvironment() string {
	for _, name := range envVars {
		env := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
		if env == "" {
			continue
		}
		if canonical, ok := environmentAliases[env]; ok {
			return canonical
		}
		return env
	}
	return environmentDevelopment
}

// resolveEnvSpecificPath swaps the default config path for the environment's
// own file when one exists on disk. Explicit non-default paths always win.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path == "" {
		path = defaultPath
	}
	if path != defaultPath {
		return path
	}
	envPath, ok := envPaths[getAppEnvironment()]
	if !ok {
		return path
	}
	if _, err := os.Stat(envPath); err != nil {
		return path
	}
	return envPath
}

// AppEnvironment returns the normalised deployment environment.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether env should run with production defaults
// (JSON logs, metrics publishing).
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}
