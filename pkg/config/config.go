// Package config loads umlpipe settings from a TOML file.
//
// Every field has a default, so a missing file is not an error. The file
// lives at $XDG_CONFIG_HOME/umlpipe/config.toml, falling back to
// ~/.config/umlpipe/config.toml.
//
//	[engine]
//	kind    = "plantuml"          # or "graphviz" for in-process DOT rendering
//	java    = "java"
//	jar     = "/opt/plantuml/plantuml.jar"
//	timeout = "10s"
//
//	[bridge]
//	port_start = 8080
//	port_end   = 8090
//
//	[cache]
//	backend = "file"              # file, none, redis, mongo
//	ttl     = "24h"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/umlpipe/pkg/errors"
)

const appName = "umlpipe"

// Engine kinds.
const (
	EnginePlantUML = "plantuml"
	EngineGraphviz = "graphviz"
)

// Cache backends.
const (
	CacheFile  = "file"
	CacheNone  = "none"
	CacheRedis = "redis"
	CacheMongo = "mongo"
)

// Default values.
const (
	DefaultJava       = "java"
	DefaultJar        = "plantuml.jar"
	DefaultMarker     = "</svg>"
	DefaultTimeout    = 10 * time.Second
	DefaultPortStart  = 8080
	DefaultPortEnd    = 8090
	DefaultCacheTTL   = 24 * time.Hour
	DefaultRedisAddr  = "localhost:6379"
	DefaultMongoURI   = "mongodb://localhost:27017"
	DefaultMongoDB    = appName
	DefaultMongoColl  = "renders"
	defaultConfigFile = "config.toml"
)

// Config is the root of the configuration file.
type Config struct {
	Engine Engine `toml:"engine"`
	Bridge Bridge `toml:"bridge"`
	Cache  Cache  `toml:"cache"`
}

// Engine configures the rendering engine process.
type Engine struct {
	Kind string `toml:"kind"`
	Java string `toml:"java"`
	Jar  string `toml:"jar"`
	// Args are appended after the pipe-mode flags.
	Args    []string      `toml:"args"`
	Marker  string        `toml:"marker"`
	Timeout time.Duration `toml:"timeout"`
}

// Bridge configures the local HTTP bridge.
type Bridge struct {
	// Port pins the bridge to one port. Zero selects automatic mode.
	Port      int `toml:"port"`
	PortStart int `toml:"port_start"`
	PortEnd   int `toml:"port_end"`
}

// Cache configures the render cache.
type Cache struct {
	Backend         string        `toml:"backend"`
	Dir             string        `toml:"dir"`
	TTL             time.Duration `toml:"ttl"`
	RedisAddr       string        `toml:"redis_addr"`
	RedisPassword   string        `toml:"redis_password"`
	RedisDB         int           `toml:"redis_db"`
	MongoURI        string        `toml:"mongo_uri"`
	MongoDatabase   string        `toml:"mongo_database"`
	MongoCollection string        `toml:"mongo_collection"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.Engine.Kind == "" {
		c.Engine.Kind = EnginePlantUML
	}
	if c.Engine.Java == "" {
		c.Engine.Java = DefaultJava
	}
	if c.Engine.Jar == "" {
		c.Engine.Jar = DefaultJar
	}
	if c.Engine.Marker == "" {
		c.Engine.Marker = DefaultMarker
	}
	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = DefaultTimeout
	}
	if c.Bridge.PortStart == 0 {
		c.Bridge.PortStart = DefaultPortStart
	}
	if c.Bridge.PortEnd == 0 {
		c.Bridge.PortEnd = DefaultPortEnd
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheFile
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = DefaultRedisAddr
	}
	if c.Cache.MongoURI == "" {
		c.Cache.MongoURI = DefaultMongoURI
	}
	if c.Cache.MongoDatabase == "" {
		c.Cache.MongoDatabase = DefaultMongoDB
	}
	if c.Cache.MongoCollection == "" {
		c.Cache.MongoCollection = DefaultMongoColl
	}
}

// Validate checks the configuration for values no component can use.
func (c *Config) Validate() error {
	switch c.Engine.Kind {
	case EnginePlantUML, EngineGraphviz:
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown engine kind %q", c.Engine.Kind)
	}
	if c.Engine.Timeout < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "engine timeout must be positive")
	}
	if c.Bridge.Port != 0 {
		if err := errors.ValidatePort(c.Bridge.Port); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "bridge port")
		}
	}
	if err := errors.ValidatePortRange(c.Bridge.PortStart, c.Bridge.PortEnd); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "bridge port range")
	}
	switch c.Cache.Backend {
	case CacheFile, CacheNone, CacheRedis, CacheMongo:
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// Load reads the TOML file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	c := &Config{}
	if _, err := toml.DecodeFile(path, c); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse %s", path)
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode writes c as TOML.
func (c *Config) Encode() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}

// Path returns the default configuration file location.
func Path() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, defaultConfigFile), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, defaultConfigFile), nil
}

// CacheDir returns the render cache directory using the XDG layout
// (~/.cache/umlpipe/) unless the config overrides it.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
