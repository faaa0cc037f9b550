package strategy

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"perpcore/pkg/runner"
)

// Builder constructs a strategy from its YAML params block.
type Builder func(params map[string]any) (runner.Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Builder)
)

// Register adds a strategy builder under name. Last registration wins.
func Register(name string, builder Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = builder
}

// Build resolves name and constructs the strategy.
func Build(name string, params map[string]any) (runner.Strategy, error) {
	registryMu.RLock()
	builder, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q (registered: %v)", name, Names())
	}
	return builder(params)
}

// Names lists registered strategies, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeParams maps a loosely-typed params block onto a config struct via
// a YAML round-trip, so builders share the config structs' yaml tags.
func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("strategy: encode params: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("strategy: decode params: %w", err)
	}
	return nil
}

func init() {
	Register("ema-cross", func(params map[string]any) (runner.Strategy, error) {
		var cfg EMACrossConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewEMACross(cfg)
	})
	Register("rsi-reversion", func(params map[string]any) (runner.Strategy, error) {
		var cfg RSIReversionConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewRSIReversion(cfg)
	})
}
