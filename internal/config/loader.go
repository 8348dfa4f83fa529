package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by Load for every failure.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

const (
	// DATABASE_URL_SSM_PARAM=/prod/weather-bingo/database-url resolves
	// DATABASE_URL from that parameter.
	ssmParamSuffix = "_SSM_PARAM"
	localEnv       = "local"
	ssmTimeout     = 30 * time.Second
)

// env is the process environment seen by the loader. Tests substitute a map.
type env struct {
	lookup func(key string) (string, bool)
	set    func(key, value string) error
	list   func() []string
}

func osEnv() env {
	return env{lookup: os.LookupEnv, set: os.Setenv, list: os.Environ}
}

// Load reads .env, resolves SSM pointers outside local mode, populates the
// Config from the environment and validates it. provider may be nil in
// local mode.
func Load(provider SecretProvider) (*Config, error) {
	return load(provider, osEnv())
}

func load(provider SecretProvider, e env) (*Config, error) {
	time.Local = time.UTC

	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	if appEnv, _ := e.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSSM(provider, e); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return &cfg, nil
}

// resolveSSM finds FOO_SSM_PARAM=<path> pointers whose FOO is unset, fetches
// every path in one batch and exports the values as FOO.
func resolveSSM(provider SecretProvider, e env) error {
	targets := map[string]string{} // path -> variable
	for _, kv := range e.list() {
		key, path, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		name := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := e.lookup(name); set {
			continue
		}
		targets[path] = name
	}
	if len(targets) == 0 {
		return nil
	}

	paths := make([]string, 0, len(targets))
	for p := range targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("a secret provider is required to resolve %s", strings.Join(names(paths, targets), ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmTimeout)
	defer cancel()
	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		v, ok := values[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := e.set(targets[p], v); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to export %s", targets[p]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

func names(paths []string, targets map[string]string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = targets[p]
	}
	return out
}
