package core

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

const (
	DefaultEnvPrefix = "BROKER_"
	envPathSeparator = "__"
)

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

// StaticConfigLoader serves a fixed raw configuration map, typically runtime
// overrides from CLI flags or tests.
type StaticConfigLoader map[string]any

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return cloneRaw(l), nil
}

// EnvConfigLoader reads PREFIX_SECTION__KEY variables into a nested raw map,
// converting values to the type of the matching Config field.
type EnvConfigLoader struct {
	Prefix  string
	Environ func() []string
}

func NewEnvConfigLoader() EnvConfigLoader {
	return EnvConfigLoader{Prefix: DefaultEnvPrefix, Environ: os.Environ}
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	prefix := l.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	raw := map[string]any{}
	configType := reflect.TypeOf(Config{})
	for _, entry := range environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(name, prefix)), envPathSeparator)
		fieldType, ok := fieldTypeForPath(configType, path)
		if !ok {
			continue
		}
		typed, err := coerceConfigValue(fieldType, value)
		if err != nil {
			return nil, fmt.Errorf("core: env %s: %w", name, err)
		}
		setRawPath(raw, path, typed)
	}
	return raw, nil
}

// LoadConfig layers the environment values under the runtime overrides and
// builds a validated Config on top of DefaultConfig. Either loader may be nil.
func LoadConfig(ctx context.Context, env RawConfigLoader, runtime RawConfigLoader) (Config, error) {
	envLayer, err := loadRaw(ctx, env)
	if err != nil {
		return Config{}, fmt.Errorf("core: load environment config: %w", err)
	}
	runtimeLayer, err := loadRaw(ctx, runtime)
	if err != nil {
		return Config{}, fmt.Errorf("core: load runtime config: %w", err)
	}

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("environment", 10),
			envLayer,
			opts.WithSnapshotID[map[string]any]("environment"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	cfg, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(DefaultConfig()),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadRaw(ctx context.Context, loader RawConfigLoader) (map[string]any, error) {
	if loader == nil {
		return map[string]any{}, nil
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func fieldTypeForPath(t reflect.Type, path []string) (reflect.Type, bool) {
	if len(path) == 0 {
		return t, true
	}
	switch t.Kind() {
	case reflect.Struct:
		for i := range t.NumField() {
			field := t.Field(i)
			if strings.Split(field.Tag.Get("koanf"), ",")[0] == path[0] {
				return fieldTypeForPath(field.Type, path[1:])
			}
		}
	case reflect.Map:
		if t.Key().Kind() == reflect.String {
			return fieldTypeForPath(t.Elem(), path[1:])
		}
	}
	return nil, false
}

var durationType = reflect.TypeOf(time.Duration(0))

func coerceConfigValue(t reflect.Type, value string) (any, error) {
	value = strings.TrimSpace(value)
	if t == durationType {
		return time.ParseDuration(value)
	}
	switch t.Kind() {
	case reflect.String:
		return value, nil
	case reflect.Bool:
		return strconv.ParseBool(value)
	case reflect.Int:
		return strconv.Atoi(value)
	case reflect.Int64:
		return strconv.ParseInt(value, 10, 64)
	case reflect.Float64:
		return strconv.ParseFloat(value, 64)
	case reflect.Slice:
		if t.Elem().Kind() != reflect.String {
			break
		}
		items := []string{}
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	}
	return nil, fmt.Errorf("unsupported config field type %s", t)
}

func setRawPath(raw map[string]any, path []string, value any) {
	current := raw
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}

func cloneRaw(source map[string]any) map[string]any {
	out := make(map[string]any, len(source))
	for key, value := range source {
		if nested, ok := value.(map[string]any); ok {
			out[key] = cloneRaw(nested)
			continue
		}
		out[key] = value
	}
	return out
}

// ParseOverrides turns dotted key=value assignments, such as
// "database.dsn=file:broker.db", into a raw runtime layer typed like Config.
func ParseOverrides(assignments []string) (map[string]any, error) {
	raw := map[string]any{}
	configType := reflect.TypeOf(Config{})
	for _, assignment := range assignments {
		key, value, ok := strings.Cut(assignment, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" {
			return nil, fmt.Errorf("core: override %q must be key=value", assignment)
		}
		path := strings.Split(key, ".")
		fieldType, ok := fieldTypeForPath(configType, path)
		if !ok {
			return nil, fmt.Errorf("core: unknown config key %q", key)
		}
		typed, err := coerceConfigValue(fieldType, value)
		if err != nil {
			return nil, fmt.Errorf("core: override %s: %w", key, err)
		}
		setRawPath(raw, path, typed)
	}
	return raw, nil
}
