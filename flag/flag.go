package flag

import (
	"time"

	"github.com/urfave/cli/v2"
)

const envVarPrefix = "DROPLETS"

func prefixEnvVars(name string) []string {
	return []string{envVarPrefix + "_" + name}
}

var (
	// Required flags
	MigrationsFlag = &cli.StringFlag{
		Name:    "migrations-dir",
		Value:   "./migrations",
		Usage:   "path to migrations folder",
		EnvVars: prefixEnvVars("MIGRATIONS_DIR"),
	}
	ChainsConfigFlag = &cli.StringFlag{
		Name:    "chains-config",
		Value:   "./chains.yaml",
		Usage:   "path to the chains, assets and integrations topology file",
		EnvVars: prefixEnvVars("CHAINS_CONFIG"),
	}
	DbHostFlag = &cli.StringFlag{
		Name:     "db-host",
		Usage:    "The host of the database",
		EnvVars:  prefixEnvVars("DB_HOST"),
		Required: true,
	}
	DbPortFlag = &cli.IntFlag{
		Name:    "db-port",
		Usage:   "The port of the database",
		EnvVars: prefixEnvVars("DB_PORT"),
		Value:   5432,
	}
	DbUserFlag = &cli.StringFlag{
		Name:     "db-user",
		Usage:    "The user of the database",
		EnvVars:  prefixEnvVars("DB_USER"),
		Required: true,
	}
	DbPasswordFlag = &cli.StringFlag{
		Name:    "db-password",
		Usage:   "The password of the database",
		EnvVars: prefixEnvVars("DB_PASSWORD"),
	}
	DbNameFlag = &cli.StringFlag{
		Name:     "db-name",
		Usage:    "The db name of the database",
		EnvVars:  prefixEnvVars("DB_NAME"),
		Required: true,
	}
	// Optional flags
	StartDateFlag = &cli.StringFlag{
		Name:    "start-date",
		Usage:   "first UTC day to index, as YYYY-MM-DD",
		EnvVars: prefixEnvVars("START_DATE"),
	}
	HttpHostFlag = &cli.StringFlag{
		Name:    "http-host",
		Usage:   "The host of the api",
		EnvVars: prefixEnvVars("HTTP_HOST"),
		Value:   "127.0.0.1",
	}
	HttpPortFlag = &cli.IntFlag{
		Name:    "http-port",
		Usage:   "The port of the api",
		EnvVars: prefixEnvVars("HTTP_PORT"),
		Value:   8987,
	}
	MetricsHostFlag = &cli.StringFlag{
		Name:    "metrics-host",
		Usage:   "The host of the metrics",
		EnvVars: prefixEnvVars("METRICS_HOST"),
		Value:   "127.0.0.1",
	}
	MetricsPortFlag = &cli.IntFlag{
		Name:    "metrics-port",
		Usage:   "The port of the metrics",
		EnvVars: prefixEnvVars("METRICS_PORT"),
		Value:   7214,
	}
	FinalityDelayFlag = &cli.DurationFlag{
		Name:    "finality-delay",
		Usage:   "how long after a day ends before it is processed",
		EnvVars: prefixEnvVars("FINALITY_DELAY"),
		Value:   30 * time.Minute,
	}
	ScheduleFlag = &cli.StringFlag{
		Name:    "schedule",
		Usage:   "cron spec of the daily live-fill run",
		EnvVars: prefixEnvVars("SCHEDULE"),
		Value:   "CRON_TZ=UTC 5 0 * * *",
	}
	FetchWorkersFlag = &cli.IntFlag{
		Name:    "fetch-workers",
		Usage:   "concurrent log range requests per chain",
		EnvVars: prefixEnvVars("FETCH_WORKERS"),
		Value:   4,
	}
	RevalueToleranceFlag = &cli.StringFlag{
		Name:    "revalue-tolerance",
		Usage:   "relative change below which integration revalues are skipped",
		EnvVars: prefixEnvVars("REVALUE_TOLERANCE"),
		Value:   "0.0001",
	}
	EnableApiCacheFlag = &cli.BoolFlag{
		Name:    "api-cache-enable",
		Usage:   "Whether to cache api responses",
		EnvVars: prefixEnvVars("API_CACHE_ENABLE"),
	}
	ApiCacheListSize = &cli.IntFlag{
		Name:    "api-cache-list-size",
		Usage:   "cache entries for snapshot listings",
		EnvVars: prefixEnvVars("API_CACHE_LIST_SIZE"),
		Value:   256,
	}
	ApiCacheDetailSize = &cli.IntFlag{
		Name:    "api-cache-detail-size",
		Usage:   "cache entries for per-address responses",
		EnvVars: prefixEnvVars("API_CACHE_DETAIL_SIZE"),
		Value:   4096,
	}
	ApiCacheListExpireTime = &cli.DurationFlag{
		Name:    "api-cache-list-expire-time",
		Usage:   "ttl of snapshot listing cache entries",
		EnvVars: prefixEnvVars("API_CACHE_LIST_EXPIRE_TIME"),
		Value:   10 * time.Minute,
	}
	ApiCacheDetailExpireTime = &cli.DurationFlag{
		Name:    "api-cache-detail-expire-time",
		Usage:   "ttl of per-address cache entries",
		EnvVars: prefixEnvVars("API_CACHE_DETAIL_EXPIRE_TIME"),
		Value:   time.Minute,
	}
)

var requiredFlags = []cli.Flag{
	MigrationsFlag,
	ChainsConfigFlag,
	DbHostFlag,
	DbPortFlag,
	DbUserFlag,
	DbPasswordFlag,
	DbNameFlag,
}

var optionalFlags = []cli.Flag{
	StartDateFlag,
	HttpHostFlag,
	HttpPortFlag,
	MetricsHostFlag,
	MetricsPortFlag,
	FinalityDelayFlag,
	ScheduleFlag,
	FetchWorkersFlag,
	RevalueToleranceFlag,
	EnableApiCacheFlag,
	ApiCacheListSize,
	ApiCacheDetailSize,
	ApiCacheListExpireTime,
	ApiCacheDetailExpireTime,
}

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

// Flags contains the list of configuration options available to the binary.
var Flags []cli.Flag
