package config

import (
	"time"

	"github.com/urfave/cli/v2"
)

type Config struct {
	Service     Service
	Log         LogSettings
	SQLSettings SQLSettings
	Workers     WorkerSettings
	Classes     ClassSettings
	Operation   OperationSettings
	Webhook     WebhookSettings
	ConfigFile  string
}

type Service struct {
	ID      string
	Address string
	Consul  string
}

type SQLSettings struct {
	Driver string // sqlite3 | postgres
	DSN    string
	Path   string
}

type WorkerSettings struct {
	Count      int
	MaxRetry   int
	Timeout    time.Duration
	GateWait   time.Duration
	Poll       time.Duration
	BackoffMax time.Duration
	CacheSize  int
	CacheTTL   time.Duration
}

type ClassSettings struct {
	Light          int
	Heavy          int
	LightExtension cli.StringSlice
	HeavyExtension cli.StringSlice
}

type OperationSettings struct {
	LightCommand   cli.StringSlice
	HeavyCommand   cli.StringSlice
	UnchangedCodes cli.IntSlice
	SkippedCodes   cli.IntSlice
}

type WebhookSettings struct {
	Secret  string
	PathMap cli.StringSlice // remote=local
}

type LogSettings struct {
	Lvl     string
	JSON    bool
	Otel    bool
	File    string
	Console bool
}
