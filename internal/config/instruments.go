package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"perpcore/pkg/market"
	"perpcore/pkg/risk"
)

// Instrument is one coin's trading setup: which strategy runs on which
// interval, how entries are sized, and which guardrails gate them.
type Instrument struct {
	Coin     string `yaml:"coin"`
	Interval string `yaml:"interval"`

	Strategy string         `yaml:"strategy"`
	Params   map[string]any `yaml:"params"`

	Leverage    int  `yaml:"leverage"`
	IsCross     bool `yaml:"is_cross"`
	SlippageBps int  `yaml:"slippage_bps"`
	AutoTrading bool `yaml:"auto_trading"`

	Sizing     risk.Sizing     `yaml:"sizing"`
	Guardrails risk.Guardrails `yaml:"guardrails"`

	// HTF maps a label ("4h") to its aggregation factor over Interval.
	HTF map[string]int `yaml:"htf"`

	CooldownBars      int     `yaml:"cooldown_bars"`
	DailyLossLimitUsd float64 `yaml:"daily_loss_limit_usd"`
	MaxTradesPerDay   int     `yaml:"max_trades_per_day"`
}

// InstrumentsFile is the etc/instruments.yaml schema.
type InstrumentsFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

// LoadInstruments reads and validates the per-instrument trading config.
func LoadInstruments(path string) (*InstrumentsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruments config: %w", err)
	}
	var cfg InstrumentsFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal instruments config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies defaults and rejects ambiguous setups.
func (f *InstrumentsFile) Validate() error {
	seen := make(map[string]struct{}, len(f.Instruments))
	for i := range f.Instruments {
		inst := &f.Instruments[i]
		inst.Coin = strings.ToUpper(strings.TrimSpace(inst.Coin))
		if inst.Coin == "" {
			return fmt.Errorf("instruments[%d]: coin is required", i)
		}
		if _, dup := seen[inst.Coin]; dup {
			return fmt.Errorf("instruments: duplicate coin %s", inst.Coin)
		}
		seen[inst.Coin] = struct{}{}

		if inst.Interval == "" {
			inst.Interval = "1h"
		}
		if _, err := market.IntervalDuration(inst.Interval); err != nil {
			return fmt.Errorf("instrument %s: %w", inst.Coin, err)
		}
		if inst.Strategy == "" {
			return fmt.Errorf("instrument %s: strategy is required", inst.Coin)
		}
		if inst.Leverage <= 0 {
			inst.Leverage = 1
		}
		if inst.SlippageBps <= 0 {
			inst.SlippageBps = 30
		}
		if inst.Sizing.Mode == "" {
			return fmt.Errorf("instrument %s: sizing.mode is required", inst.Coin)
		}
		for label, factor := range inst.HTF {
			if factor < 2 {
				return fmt.Errorf("instrument %s: htf %q factor must be >= 2", inst.Coin, label)
			}
		}
	}
	return nil
}

// ByCoin returns the instrument for coin, or nil.
func (f *InstrumentsFile) ByCoin(coin string) *Instrument {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	for i := range f.Instruments {
		if f.Instruments[i].Coin == coin {
			return &f.Instruments[i]
		}
	}
	return nil
}
