package config

import (
	"fmt"
	"path/filepath"

	"perpcore/pkg/confkit"
	"perpcore/pkg/exchange"
)

// MustLoadExchange loads etc/exchange.yaml from the project root and panics
// on error. It isolates exchange config so tests that only need a provider
// never load the full main config.
func MustLoadExchange() *exchange.Config {
	root := confkit.MustProjectRoot()
	path := filepath.Join(root, "etc", "exchange.yaml")
	cfg, err := exchange.LoadConfig(path)
	if err != nil {
		panic(fmt.Errorf("load exchange config %s: %w", path, err))
	}
	return cfg
}

// MustLoadInstruments loads etc/instruments.yaml from the project root and
// panics on error.
func MustLoadInstruments() *InstrumentsFile {
	root := confkit.MustProjectRoot()
	path := filepath.Join(root, "etc", "instruments.yaml")
	cfg, err := LoadInstruments(path)
	if err != nil {
		panic(fmt.Errorf("load instruments config %s: %w", path, err))
	}
	return cfg
}
