package config

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9980"
	defaultEngineMode       = "sim"
	defaultDefaultTimeout   = 10
	defaultHeartbeatTimeout = 30
	defaultConnectTimeout   = 15
	defaultBreakerThreshold = 5
	defaultBreakerCooloff   = 60
	defaultLedgerDBPath     = "data/nautgate.db"
	defaultRetentionHours   = 24
	defaultPurgeInterval    = 30
	defaultBacktestDataDir  = "data/backtest"
	defaultBacktestRate     = 10
	defaultBacktestWorkers  = 2
)

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultAppEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultAppHTTPAddr
	}
	if c.Engine.Mode == "" {
		c.Engine.Mode = defaultEngineMode
	}
	if c.Engine.DefaultTimeoutSec <= 0 {
		c.Engine.DefaultTimeoutSec = defaultDefaultTimeout
	}
	if c.Engine.HeartbeatTimeoutSec <= 0 {
		c.Engine.HeartbeatTimeoutSec = defaultHeartbeatTimeout
	}
	if c.Engine.ConnectTimeoutSec <= 0 {
		c.Engine.ConnectTimeoutSec = defaultConnectTimeout
	}
	if c.Engine.BreakerThreshold <= 0 {
		c.Engine.BreakerThreshold = defaultBreakerThreshold
	}
	if c.Engine.BreakerCooloffSec <= 0 {
		c.Engine.BreakerCooloffSec = defaultBreakerCooloff
	}
	if c.Ledger.DBPath == "" {
		c.Ledger.DBPath = defaultLedgerDBPath
	}
	if c.Ledger.RetentionHours < 0 {
		c.Ledger.RetentionHours = defaultRetentionHours
	}
	if c.Ledger.PurgeIntervalMin <= 0 {
		c.Ledger.PurgeIntervalMin = defaultPurgeInterval
	}
	if c.Backtest.DataDir == "" {
		c.Backtest.DataDir = defaultBacktestDataDir
	}
	if c.Backtest.RateLimitPerMin <= 0 {
		c.Backtest.RateLimitPerMin = defaultBacktestRate
	}
	if c.Backtest.MaxConcurrent <= 0 {
		c.Backtest.MaxConcurrent = defaultBacktestWorkers
	}
}
