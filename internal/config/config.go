// Package config loads the YAML document describing the two backends and
// the session tunables: timeouts, geometry, scrollback, poll interval,
// context window. A .env file is loaded first so secrets never need to
// live in the YAML itself.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BackendDef describes one backend's launch command and the literal
// markers its pane grammar uses to signal readiness.
type BackendDef struct {
	Name       string   `yaml:"name"`
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	WorkDir    string   `yaml:"work_dir"`
	Env        []string `yaml:"env"`
	ReadyMatch string   `yaml:"ready_match"`
}

// Config is the full on-disk shape.
type Config struct {
	TmuxBin string `yaml:"tmux_bin"`

	BackendA BackendDef `yaml:"backend_a"`
	BackendB BackendDef `yaml:"backend_b"`

	Cols            int           `yaml:"cols"`
	Rows            int           `yaml:"rows"`
	ScrollbackLines int           `yaml:"scrollback_lines"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	StartDeadline   time.Duration `yaml:"start_deadline"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	SlowCycle       time.Duration `yaml:"slow_cycle"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	ContextWindow   int           `yaml:"context_window"`

	HTTPAddr string `yaml:"http_addr"`
}

func applyDefaults(c *Config) {
	if c.TmuxBin == "" {
		c.TmuxBin = "tmux"
	}
	if c.Cols == 0 {
		c.Cols = 220
	}
	if c.Rows == 0 {
		c.Rows = 50
	}
	if c.ScrollbackLines == 0 {
		c.ScrollbackLines = 2000
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.StartDeadline == 0 {
		c.StartDeadline = 15 * time.Second
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 720 * time.Second
	}
	if c.SlowCycle == 0 {
		c.SlowCycle = 500 * time.Millisecond
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = 5
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = "127.0.0.1:8787"
	}
}

// LoadFromBytes parses a YAML document after expanding ${VAR}/$VAR
// references against the process environment, so a .env-sourced secret
// can be referenced from the backend env list without appearing in the
// file itself.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	applyDefaults(&c)
	return &c, nil
}

// Load reads envPath (if present) into the process environment, then
// parses path as the backend/session config.
func Load(path, envPath string) (*Config, error) {
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf("config: load env: %w", err)
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// Watch attaches an fsnotify watcher to path and invokes onChange with a
// freshly reloaded Config each time the file is written. The backend
// table is only ever picked up this way between sessions: callers must
// not apply a reload to a session already in flight.
func Watch(path, envPath string, onChange func(*Config)) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path, envPath)
				if err != nil {
					continue
				}
				onChange(cfg)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return w, nil
}
