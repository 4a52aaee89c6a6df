// Package config loads the bridge's settings from a YAML file and the environment, and resolves
// which backend executable to run for the current mode and platform.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/guseggert/omrbridge/bridge"
	"github.com/guseggert/omrbridge/internal/files"
	inet "github.com/guseggert/omrbridge/internal/net"
	"github.com/guseggert/omrbridge/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	ModePackaged    = "packaged"
	ModeDevelopment = "development"
)

// DefaultBackendPort is where the backend listens when PORT is not set.
const DefaultBackendPort = 3001

type Config struct {
	Mode    string        `yaml:"mode"`
	Backend BackendConfig `yaml:"backend"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Server  ServerConfig  `yaml:"server"`
	Logger  LoggerConfig  `yaml:"logger"`
}

type BackendConfig struct {
	// Dir is the backend's working directory. When empty, packaged mode uses the directory of the
	// running executable and development mode searches upward for SourceDir.
	Dir string `yaml:"dir"`

	// Executable overrides the per-platform binary name in packaged mode.
	Executable string `yaml:"executable"`

	// Interpreter and Script run the backend from source in development mode.
	SourceDir   string `yaml:"source_dir"`
	Interpreter string `yaml:"interpreter"`
	Script      string `yaml:"script"`

	Args         []string          `yaml:"args"`
	Env          map[string]string `yaml:"env"`
	DatabasePath string            `yaml:"database_path"`

	// Host and Port are where a socket-mode backend listens. Port is passed to the backend as PORT;
	// zero picks a free port at startup.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type BridgeConfig struct {
	Transport      string        `yaml:"transport"`
	Readiness      string        `yaml:"readiness"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	HandshakeDelay time.Duration `yaml:"handshake_delay"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	MaxLine        int           `yaml:"max_line"`
}

type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	OriginPatterns []string      `yaml:"origin_patterns"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`

	// Encoding is "console" or "json".
	Encoding string `yaml:"encoding"`
}

func Defaults() *Config {
	return &Config{
		Mode: ModePackaged,
		Backend: BackendConfig{
			SourceDir:    "pServer",
			Interpreter:  "python3",
			Script:       "bridge.py",
			DatabasePath: "omr_database.db",
			Host:         "127.0.0.1",
			Port:         DefaultBackendPort,
		},
		Bridge: BridgeConfig{
			Transport:      string(bridge.TransportPipe),
			Readiness:      string(bridge.ReadinessHandshake),
			ReadyTimeout:   30 * time.Second,
			RetryInterval:  time.Second,
			DialTimeout:    time.Second,
			HandshakeDelay: bridge.DefaultHandshakeDelay,
			ShutdownGrace:  bridge.DefaultShutdownGrace,
		},
		Server: ServerConfig{
			ListenAddr:  server.DefaultListenAddr,
			CallTimeout: server.DefaultCallTimeout,
		},
		Logger: LoggerConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load reads a YAML config file and applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps OMRBRIDGE_* variables, and the backend's own DATABASE_PATH and PORT, onto cfg.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("OMRBRIDGE_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("OMRBRIDGE_BACKEND_DIR"); v != "" {
		cfg.Backend.Dir = v
	}
	if v := os.Getenv("OMRBRIDGE_BACKEND_EXECUTABLE"); v != "" {
		cfg.Backend.Executable = v
	}
	if v := os.Getenv("OMRBRIDGE_TRANSPORT"); v != "" {
		cfg.Bridge.Transport = v
	}
	if v := os.Getenv("OMRBRIDGE_READINESS"); v != "" {
		cfg.Bridge.Readiness = v
	}
	if v := os.Getenv("OMRBRIDGE_READY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing OMRBRIDGE_READY_TIMEOUT: %w", err)
		}
		cfg.Bridge.ReadyTimeout = d
	}
	if v := os.Getenv("OMRBRIDGE_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("OMRBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Backend.DatabasePath = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing PORT: %w", err)
		}
		cfg.Backend.Port = port
	}
	return nil
}

func Validate(cfg *Config) error {
	var errs []error
	switch cfg.Mode {
	case ModePackaged, ModeDevelopment:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModePackaged, ModeDevelopment, cfg.Mode))
	}
	if cfg.Mode == ModeDevelopment && cfg.Backend.Interpreter == "" {
		errs = append(errs, errors.New("development mode needs backend.interpreter"))
	}
	if cfg.Backend.Host == "" {
		errs = append(errs, errors.New("backend.host is empty"))
	}
	if cfg.Backend.Port < 0 || cfg.Backend.Port > 65535 {
		errs = append(errs, fmt.Errorf("backend.port %d out of range", cfg.Backend.Port))
	}
	if _, err := zapcore.ParseLevel(cfg.Logger.Level); err != nil {
		errs = append(errs, fmt.Errorf("logger.level: %w", err))
	}
	switch cfg.Logger.Encoding {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.encoding must be console or json, got %q", cfg.Logger.Encoding))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is empty"))
	}
	return errors.Join(errs...)
}

// BinaryName is the packaged backend's file name on goos.
func BinaryName(goos string) string {
	switch goos {
	case "windows":
		return "omr-backend.exe"
	case "darwin":
		return "omr-backend-mac"
	default:
		return "omr-backend"
	}
}

// BridgeConfig resolves the backend command for goos. exeDir is the directory holding the running
// executable; packaged binaries are looked up next to it.
func (c *Config) BridgeConfig(goos, exeDir string) (bridge.Config, error) {
	out := bridge.Config{
		Transport:      bridge.Transport(c.Bridge.Transport),
		Readiness:      bridge.ReadinessMode(c.Bridge.Readiness),
		ReadyTimeout:   c.Bridge.ReadyTimeout,
		RetryInterval:  c.Bridge.RetryInterval,
		DialTimeout:    c.Bridge.DialTimeout,
		HandshakeDelay: c.Bridge.HandshakeDelay,
		ShutdownGrace:  c.Bridge.ShutdownGrace,
		MaxLine:        c.Bridge.MaxLine,
	}

	switch c.Mode {
	case ModeDevelopment:
		dir := c.Backend.Dir
		if dir == "" {
			found, err := files.FindUp(c.Backend.SourceDir, exeDir)
			if err != nil {
				return bridge.Config{}, fmt.Errorf("looking for backend sources: %w", err)
			}
			if found == "" {
				return bridge.Config{}, fmt.Errorf("no %s directory found above %s", c.Backend.SourceDir, exeDir)
			}
			dir = found
		}
		out.Dir = dir
		out.Command = c.Backend.Interpreter
		out.Args = append([]string{c.Backend.Script}, c.Backend.Args...)
	default:
		dir := c.Backend.Dir
		if dir == "" {
			dir = exeDir
		}
		out.Dir = dir
		out.Command = c.Backend.Executable
		if out.Command == "" {
			out.Command = filepath.Join(dir, BinaryName(goos))
		}
		out.Args = c.Backend.Args
	}

	addr, err := inet.ResolveAddr(net.JoinHostPort(c.Backend.Host, strconv.Itoa(c.Backend.Port)))
	if err != nil {
		return bridge.Config{}, fmt.Errorf("choosing backend port: %w", err)
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return bridge.Config{}, err
	}
	if out.Transport == bridge.TransportSocket || out.Readiness == bridge.ReadinessSocketPoll {
		out.Addr = addr
	}

	out.Env = []string{
		"DATABASE_PATH=" + c.Backend.DatabasePath,
		"PORT=" + port,
	}
	keys := make([]string, 0, len(c.Backend.Env))
	for k := range c.Backend.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Env = append(out.Env, k+"="+c.Backend.Env[k])
	}
	return out, nil
}

// ServerOptions returns the server settings as options.
func (c *Config) ServerOptions() []server.Option {
	opts := []server.Option{
		server.WithListenAddr(c.Server.ListenAddr),
		server.WithCallTimeout(c.Server.CallTimeout),
	}
	if len(c.Server.OriginPatterns) > 0 {
		opts = append(opts, server.WithOriginPatterns(c.Server.OriginPatterns...))
	}
	return opts
}

// Build constructs the process logger.
func (l LoggerConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if l.Encoding == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
