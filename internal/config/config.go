package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/inkwell/internal/crop"
)

// ErrNoConfigFile is returned when a change must be persisted but no config
// file was loaded.
var ErrNoConfigFile = errors.New("no config file loaded")

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config. With an
// empty cfgFile it looks for config.yaml in the working directory and then in
// each of searchDirs.
func NewManager(cfgFile string, searchDirs ...string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    slog.Default().With("component", "config"),
	}

	if err := cm.initViper(cfgFile, searchDirs); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string, searchDirs []string) error {
	setDefaults(cm.v)

	// Environment variables with INKWELL_ prefix, e.g. INKWELL_PIPELINE_WORKERS
	cm.v.SetEnvPrefix("INKWELL")
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		for _, dir := range searchDirs {
			cm.v.AddConfigPath(dir)
		}
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// Path returns the config file in use, or "" when running on defaults.
func (cm *Manager) Path() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.logger.Warn("config reload failed", "file", e.Name, "error", err)
			return
		}
		cm.publish(cfg)
	})
	cm.v.WatchConfig()
}

func (cm *Manager) publish(cfg *Config) {
	cm.mu.Lock()
	cm.config = cfg
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	cm.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// SetCrop validates r and persists it as the slot's region in the config
// file. Other settings in the file are left as written.
func (cm *Manager) SetCrop(slot crop.Slot, r crop.Region) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: %q", crop.ErrUnknownSlot, slot)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	path := cm.Path()
	if path == "" {
		return ErrNoConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	region := yaml.MapSlice{
		{Key: "left", Value: r.Left},
		{Key: "top", Value: r.Top},
		{Key: "right", Value: r.Right},
		{Key: "bottom", Value: r.Bottom},
	}
	cropSection, _ := lookup(doc, "crop").(yaml.MapSlice)
	doc = upsert(doc, "crop", upsert(cropSection, string(slot), region))

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if err := cm.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	cfg, err := cm.load()
	if err != nil {
		return err
	}
	cm.publish(cfg)
	cm.logger.Info("crop region saved", "slot", slot, "file", path)
	return nil
}

func lookup(doc yaml.MapSlice, key string) any {
	for _, item := range doc {
		if k, ok := item.Key.(string); ok && k == key {
			return item.Value
		}
	}
	return nil
}

func upsert(doc yaml.MapSlice, key string, value any) yaml.MapSlice {
	for i, item := range doc {
		if k, ok := item.Key.(string); ok && k == key {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, yaml.MapItem{Key: key, Value: value})
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envRef.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}
