// Package config loads the agent configuration.
//
// Every recognized option is a field of Config. Files (TOML, YAML or JSON)
// and LOGSHIP_* environment variables are decoded once, unknown keys are
// rejected, and the result is validated before use.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/logship/internal/event"
	"github.com/loykin/logship/internal/logger"
	tlsx "github.com/loykin/logship/internal/tls"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix is the prefix of environment overrides, e.g. LOGSHIP_SERVER_URL.
const EnvPrefix = "LOGSHIP"

type Config struct {
	Console      ConsoleConfig      `toml:"console" mapstructure:"console"`
	Error        ErrorConfig        `toml:"error" mapstructure:"error"`
	Server       ServerConfig       `toml:"server" mapstructure:"server"`
	LocalStorage LocalStorageConfig `toml:"localStorage" mapstructure:"localStorage"`
	Memory       MemoryConfig       `toml:"memory" mapstructure:"memory"`
	Element      ElementConfig      `toml:"element" mapstructure:"element"`
	Log          logger.Config      `toml:"log" mapstructure:"log"`
	Metrics      MetricsConfig      `toml:"metrics" mapstructure:"metrics"`
	Exec         ExecConfig         `toml:"exec" mapstructure:"exec"`
}

type ConsoleConfig struct {
	// HandleNames lists the console handles to intercept. A file may also
	// give the {name = bool} table form.
	HandleNames []string `toml:"handleNames" mapstructure:"handleNames"`
	// Output also calls the original handle after capture.
	Output bool `toml:"output" mapstructure:"output"`
}

type ErrorConfig struct {
	CatchErrors              bool `toml:"catchErrors" mapstructure:"catchErrors"`
	CatchUnhandledRejections bool `toml:"catchUnhandledRejections" mapstructure:"catchUnhandledRejections"`
	// Repanic re-raises recovered panics after capture.
	Repanic bool `toml:"repanic" mapstructure:"repanic"`
}

type ServerConfig struct {
	URL  string `toml:"url" mapstructure:"url"`
	Send bool   `toml:"send" mapstructure:"send"`
	// RetryRate is the retry tick interval. Bare integers are milliseconds.
	RetryRate time.Duration     `toml:"retryRate" mapstructure:"retryRate"`
	Timeout   time.Duration     `toml:"timeout" mapstructure:"timeout"`
	Headers   map[string]string `toml:"headers" mapstructure:"headers"`
	// RateLimit caps immediate deliveries per second; 0 disables it.
	RateLimit float64       `toml:"rateLimit" mapstructure:"rateLimit"`
	RateBurst int           `toml:"rateBurst" mapstructure:"rateBurst"`
	Breaker   BreakerConfig `toml:"breaker" mapstructure:"breaker"`
	// TLS holds the client side settings (caFile, insecureSkipVerify,
	// minVersion) for https collectors.
	TLS tlsx.Config `toml:"tls" mapstructure:"tls"`
}

type BreakerConfig struct {
	Enabled             bool          `toml:"enabled" mapstructure:"enabled"`
	ConsecutiveFailures uint32        `toml:"consecutiveFailures" mapstructure:"consecutiveFailures"`
	OpenTimeout         time.Duration `toml:"openTimeout" mapstructure:"openTimeout"`
}

type LocalStorageConfig struct {
	Max int `toml:"max" mapstructure:"max"`
	// SaveOnFailure queues payloads whose immediate delivery failed.
	SaveOnFailure bool   `toml:"saveOnFailure" mapstructure:"saveOnFailure"`
	DSN           string `toml:"dsn" mapstructure:"dsn"`
	Namespace     string `toml:"namespace" mapstructure:"namespace"`
}

type MemoryConfig struct {
	Capture bool `toml:"capture" mapstructure:"capture"`
	Max     int  `toml:"max" mapstructure:"max"`
}

// ElementConfig controls the display side channel.
type ElementConfig struct {
	Output bool `toml:"output" mapstructure:"output"`
	Max    int  `toml:"max" mapstructure:"max"`
	// Path is a display file; empty writes to stderr.
	Path string `toml:"path" mapstructure:"path"`
}

type MetricsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

// ExecConfig shapes the environment of a child run by `logship exec`.
type ExecConfig struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"envFiles" mapstructure:"envFiles"`
	UseOSEnv bool     `toml:"useOSEnv" mapstructure:"useOSEnv"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Console: ConsoleConfig{HandleNames: kindNames(), Output: true},
		Error:   ErrorConfig{CatchErrors: true, CatchUnhandledRejections: true},
		Server: ServerConfig{
			Send:      true,
			RetryRate: 2 * time.Second,
			Timeout:   5 * time.Second,
			RateBurst: 1,
			Breaker:   BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second},
		},
		LocalStorage: LocalStorageConfig{Max: 1000, SaveOnFailure: true, DSN: "memory://", Namespace: "logship"},
		Memory:       MemoryConfig{Capture: true, Max: 1000},
		Element:      ElementConfig{Max: 10000},
		Log:          logger.Config{Level: "info", Format: logger.FormatText},
		Exec:         ExecConfig{UseOSEnv: true},
	}
}

// Load reads path (may be empty), applies LOGSHIP_* overrides on top of
// Default, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		handleNamesHook,
		millisHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.UnmarshalExact(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func kindNames() []string {
	out := make([]string, len(event.Kinds))
	for i, k := range event.Kinds {
		out[i] = string(k)
	}
	return out
}

// HandleKinds converts HandleNames to event kinds.
func (c ConsoleConfig) HandleKinds() []event.Kind {
	out := make([]event.Kind, 0, len(c.HandleNames))
	for _, n := range c.HandleNames {
		out = append(out, event.Kind(n))
	}
	return out
}

// setDefaults registers every leaf of d so AutomaticEnv can see the keys.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("console.handleNames", d.Console.HandleNames)
	v.SetDefault("console.output", d.Console.Output)
	v.SetDefault("error.catchErrors", d.Error.CatchErrors)
	v.SetDefault("error.catchUnhandledRejections", d.Error.CatchUnhandledRejections)
	v.SetDefault("error.repanic", d.Error.Repanic)
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.send", d.Server.Send)
	v.SetDefault("server.retryRate", d.Server.RetryRate)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.rateLimit", d.Server.RateLimit)
	v.SetDefault("server.rateBurst", d.Server.RateBurst)
	v.SetDefault("server.breaker.enabled", d.Server.Breaker.Enabled)
	v.SetDefault("server.breaker.consecutiveFailures", d.Server.Breaker.ConsecutiveFailures)
	v.SetDefault("server.breaker.openTimeout", d.Server.Breaker.OpenTimeout)
	v.SetDefault("server.tls.caFile", d.Server.TLS.CAFile)
	v.SetDefault("server.tls.insecureSkipVerify", d.Server.TLS.InsecureSkipVerify)
	v.SetDefault("server.tls.minVersion", d.Server.TLS.MinVersion)
	v.SetDefault("localStorage.max", d.LocalStorage.Max)
	v.SetDefault("localStorage.saveOnFailure", d.LocalStorage.SaveOnFailure)
	v.SetDefault("localStorage.dsn", d.LocalStorage.DSN)
	v.SetDefault("localStorage.namespace", d.LocalStorage.Namespace)
	v.SetDefault("memory.capture", d.Memory.Capture)
	v.SetDefault("memory.max", d.Memory.Max)
	v.SetDefault("element.output", d.Element.Output)
	v.SetDefault("element.max", d.Element.Max)
	v.SetDefault("element.path", d.Element.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", d.Log.File.Compress)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("exec.env", d.Exec.Env)
	v.SetDefault("exec.envFiles", d.Exec.EnvFiles)
	v.SetDefault("exec.useOSEnv", d.Exec.UseOSEnv)
}

var durationType = reflect.TypeOf(time.Duration(0))

// millisHook reads bare numbers as milliseconds, matching retryRate = 2000.
func millisHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if t != durationType {
		return data, nil
	}
	switch n := data.(type) {
	case int:
		return time.Duration(n) * time.Millisecond, nil
	case int64:
		return time.Duration(n) * time.Millisecond, nil
	case float64:
		return time.Duration(n * float64(time.Millisecond)), nil
	case string:
		if ms, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
	}
	return data, nil
}

// handleNamesHook accepts the {log = true, warn = false} table form for a
// string list and keeps the names set to true.
func handleNamesHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.Map || t != reflect.TypeOf([]string(nil)) {
		return data, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}
	names := make([]string, 0, len(m))
	for k, v := range m {
		if on, ok := v.(bool); ok && on {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	for _, n := range c.Console.HandleNames {
		if !event.Kind(n).Valid() {
			return fmt.Errorf("%w: console.handleNames: unknown handle %q", ErrInvalidConfig, n)
		}
	}
	if c.Server.RetryRate <= 0 {
		return fmt.Errorf("%w: server.retryRate must be positive", ErrInvalidConfig)
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("%w: server.timeout must not be negative", ErrInvalidConfig)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("%w: server.rateLimit must not be negative", ErrInvalidConfig)
	}
	if c.Server.URL != "" {
		u, err := url.Parse(c.Server.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: server.url %q is not an http(s) URL", ErrInvalidConfig, c.Server.URL)
		}
	}
	if _, err := tlsx.Client(c.Server.TLS); err != nil {
		return fmt.Errorf("%w: server.tls: %v", ErrInvalidConfig, err)
	}
	if c.LocalStorage.Max < 0 || c.Memory.Max < 0 || c.Element.Max < 0 {
		return fmt.Errorf("%w: max values must not be negative", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.LocalStorage.Namespace) == "" {
		return fmt.Errorf("%w: localStorage.namespace is required", ErrInvalidConfig)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logger.FormatText, logger.FormatColor, logger.FormatJSON:
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Delivering reports whether immediate delivery is configured. A missing
// URL disables delivery without being an error.
func (c Config) Delivering() bool {
	return c.Server.Send && c.Server.URL != ""
}

// ChildEnv composes the environment for an exec child: the OS environment
// when UseOSEnv is set, then envFiles in order, then Env entries last.
func (e ExecConfig) ChildEnv() ([]string, error) {
	m := make(map[string]string)
	if e.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i > 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range e.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range e.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
