package config

// Config is the gateway's main configuration carrier.
type Config struct {
	App      AppConfig      `toml:"app"`
	Engine   EngineConfig   `toml:"engine"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Backtest BacktestConfig `toml:"backtest"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type EngineConfig struct {
	// Mode selects the facade implementation: "sim" or "binance".
	Mode                string `toml:"mode"`
	DefaultTimeoutSec   int    `toml:"default_timeout_sec"`
	HeartbeatTimeoutSec int    `toml:"heartbeat_timeout_sec"`
	ConnectTimeoutSec   int    `toml:"connect_timeout_sec"`
	BreakerThreshold    int    `toml:"breaker_threshold"`
	BreakerCooloffSec   int    `toml:"breaker_cooloff_sec"`
	// CatalogPath points the sim facade at its instrument catalog.
	CatalogPath string `toml:"catalog_path"`
	// Testnet routes the binance facade at the spot testnet.
	Testnet bool `toml:"testnet"`
}

type LedgerConfig struct {
	DBPath string `toml:"db_path"`
	// RetentionHours bounds how long terminal orders stay in memory; 0
	// disables the purge.
	RetentionHours   int `toml:"retention_hours"`
	PurgeIntervalMin int `toml:"purge_interval_min"`
}

type BacktestConfig struct {
	Enabled         bool   `toml:"enabled"`
	DataDir         string `toml:"data_dir"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxConcurrent   int    `toml:"max_concurrent"`
}
