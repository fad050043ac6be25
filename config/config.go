// Package config loads the server configuration: built-in defaults, then an
// optional YAML file, then GEMCARRY_* environment variables. Command-line
// flags are applied on top by the binaries.
package config

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cyberinferno/gemcarry/framing"
	"github.com/cyberinferno/gemcarry/logger"
)

// EnvPrefix is prepended to the upper-cased YAML key to form the
// environment variable name, e.g. GEMCARRY_LISTEN_ADDR.
const EnvPrefix = "GEMCARRY_"

// Backend names for Store and Cache.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Mail transport names.
const (
	MailLog = "log"
	MailSES = "ses"
)

// Config is the complete server configuration.
type Config struct {
	ListenAddr        string        `yaml:"listen_addr"`
	MaxConnections    int           `yaml:"max_connections"`
	BufferSize        int           `yaml:"buffer_size"`
	Framing           string        `yaml:"framing"`
	CompressionLevel  int           `yaml:"compression_level"`
	MaxSessionPlayers int           `yaml:"max_session_players"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	AuthTimeout       time.Duration `yaml:"auth_timeout"`

	LogLevel   string `yaml:"log_level"`
	LogDir     string `yaml:"log_dir"`
	LogConsole bool   `yaml:"log_console"`
	AdminAddr  string `yaml:"admin_addr"`

	Store         string        `yaml:"store"`
	Cache         string        `yaml:"cache"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	HashAlgorithm string        `yaml:"hash_algorithm"`
	HashRounds    int           `yaml:"hash_iterations"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`

	Mail            string `yaml:"mail"`
	MailFrom        string `yaml:"mail_from"`
	AWSRegion       string `yaml:"aws_region"`
	VerificationURL string `yaml:"verification_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:        "0.0.0.0:1025",
		MaxConnections:    1000,
		BufferSize:        8192,
		Framing:           framing.KindDelimiter,
		CompressionLevel:  flate.DefaultCompression,
		MaxSessionPlayers: 10,
		WriteTimeout:      10 * time.Second,
		AuthTimeout:       5 * time.Second,

		LogLevel:   "info",
		LogConsole: true,
		AdminAddr:  "127.0.0.1:9102",

		Store:         BackendMemory,
		Cache:         BackendMemory,
		CacheTTL:      time.Minute,
		HashAlgorithm: "sha256",
		HashRounds:    10000,
		RedisAddr:     "127.0.0.1:6379",

		Mail:            MailLog,
		MailFrom:        "noreply@gemcarry.local",
		VerificationURL: "http://127.0.0.1:9102/verify?code=",
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped when
// path is empty) and the process environment, then validates it.
//
// Parameters:
//   - path: YAML file path, or ""
//
// Returns:
//   - The validated Config
//   - An error naming the file, variable or field that is wrong
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := cfg.DecodeYAML(data); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DecodeYAML overlays the keys present in data onto c. Unknown keys are an
// error.
func (c *Config) DecodeYAML(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}

	return nil
}

// ApplyEnv overlays every field whose GEMCARRY_<KEY> variable is set.
//
// Parameters:
//   - lookup: Environment accessor, normally os.LookupEnv
//
// Returns:
//   - A joined error listing every variable that could not be parsed
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("yaml")
		name := EnvPrefix + strings.ToUpper(key)

		raw, ok := lookup(name)
		if !ok {
			continue
		}

		if err := setField(v.Field(i), strings.TrimSpace(raw)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.ListenAddr != "", "listen_addr must not be empty")
	check(c.MaxConnections > 0, "max_connections must be positive, got %d", c.MaxConnections)
	check(c.BufferSize > 0, "buffer_size must be positive, got %d", c.BufferSize)
	check(c.Framing == framing.KindDelimiter || c.Framing == framing.KindLength,
		"framing must be %q or %q, got %q", framing.KindDelimiter, framing.KindLength, c.Framing)
	check(c.CompressionLevel >= flate.HuffmanOnly && c.CompressionLevel <= flate.BestCompression,
		"compression_level must be between %d and %d, got %d", flate.HuffmanOnly, flate.BestCompression, c.CompressionLevel)
	check(c.MaxSessionPlayers > 0, "max_session_players must be positive, got %d", c.MaxSessionPlayers)
	check(c.WriteTimeout >= 0, "write_timeout must not be negative")
	check(c.IdleTimeout >= 0, "idle_timeout must not be negative")
	check(c.AuthTimeout > 0, "auth_timeout must be positive")

	_, err := logger.ParseLevel(c.LogLevel)
	check(err == nil, "log_level: %v", err)

	check(c.Store == BackendMemory || c.Store == BackendRedis, "store must be %q or %q, got %q", BackendMemory, BackendRedis, c.Store)
	check(c.Cache == BackendMemory || c.Cache == BackendRedis, "cache must be %q or %q, got %q", BackendMemory, BackendRedis, c.Cache)
	check(c.CacheTTL > 0, "cache_ttl must be positive")
	check(c.HashRounds > 0, "hash_iterations must be positive, got %d", c.HashRounds)
	check(!c.UsesRedis() || c.RedisAddr != "", "redis_addr is required when a redis backend is selected")

	check(c.Mail == MailLog || c.Mail == MailSES, "mail must be %q or %q, got %q", MailLog, MailSES, c.Mail)
	check(c.Mail != MailSES || c.MailFrom != "", "mail_from is required for ses mail")

	return errors.Join(errs...)
}

// UsesRedis reports whether the store or the cache is Redis backed.
func (c *Config) UsesRedis() bool {
	return c.Store == BackendRedis || c.Cache == BackendRedis
}

// SlabUnitSize is the receive region of one connection: twice BufferSize.
func (c *Config) SlabUnitSize() int {
	return 2 * c.BufferSize
}

// SlabBytes is the size of the receive slab: MaxConnections regions.
func (c *Config) SlabBytes() int {
	return c.MaxConnections * c.SlabUnitSize()
}

func setField(f reflect.Value, raw string) error {
	switch f.Interface().(type) {
	case time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
	case string:
		f.SetString(raw)
	case int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}

	return nil
}
