package loader

import (
	"os"
	"strings"
)

// EnvLoader loads configuration from environment variables.
// PLUGHOST_PANE_TIMEOUT becomes the key pane_timeout. Values stay strings;
// the consumer converts them.
type EnvLoader struct {
	prefix  string            // Environment variable prefix (e.g., "PLUGHOST_")
	mapping map[string]string // Env var -> config key
	environ func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "PLUGHOST_").
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: make(map[string]string),
		environ: os.Environ,
	}
}

// AddMapping maps envVar to key instead of the derived name.
func (l *EnvLoader) AddMapping(envVar, key string) {
	l.mapping[envVar] = key
}

// Load reads environment variables and returns a configuration map.
// Empty values are treated as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for _, env := range l.environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if key, mapped := l.mapping[name]; mapped {
			config[key] = value
			continue
		}
		if !strings.HasPrefix(name, l.prefix) || name == l.prefix {
			continue
		}
		config[l.envToKey(name)] = value
	}
	return config, nil
}

// envToKey converts PLUGHOST_HTTP_ADDR to http_addr.
func (l *EnvLoader) envToKey(env string) string {
	return strings.ToLower(strings.TrimPrefix(env, l.prefix))
}
