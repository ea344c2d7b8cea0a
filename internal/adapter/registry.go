package adapter

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Config is the resolved configuration for one adapter instance.
type Config struct {
	Name     string
	Type     string
	Prefix   string
	URL      string
	Filter   string
	Username string
	Password string
	Token    string
	Timeout  time.Duration

	// Options carries adapter-specific settings.
	Options map[string]string

	// Logger receives adapter logs. Nil means discard.
	Logger Logger
}

// Option returns Options[key] or def when unset.
func (c Config) Option(key, def string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Log returns the configured logger or a no-op logger.
func (c Config) Log() Logger {
	if c.Logger == nil {
		return NoopLogger{}
	}
	return c.Logger
}

// Factory builds an adapter from configuration.
type Factory func(cfg Config) (Adapter, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register makes an adapter type available to New. It panics if called
// twice for the same type or with a nil factory.
func Register(typ string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("adapter: Register factory is nil for " + typ)
	}
	if _, dup := factories[typ]; dup {
		panic("adapter: Register called twice for " + typ)
	}
	factories[typ] = f
}

// New builds an adapter of cfg.Type.
func New(cfg Config) (Adapter, error) {
	registryMu.RLock()
	f, ok := factories[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownType, cfg.Type, Types())
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	return f(cfg)
}

// Types returns the registered adapter types, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
