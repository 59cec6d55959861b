package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Ledger.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level %q is not a known level", a.LogLevel)
	}
	return nil
}

func (e *EngineConfig) validate() error {
	switch strings.ToLower(e.Mode) {
	case "sim", "binance":
	default:
		return fmt.Errorf("engine.mode must be sim or binance, got %q", e.Mode)
	}
	return nil
}

func (l *LedgerConfig) validate() error {
	if strings.TrimSpace(l.DBPath) == "" {
		return fmt.Errorf("ledger.db_path must not be empty")
	}
	return nil
}
