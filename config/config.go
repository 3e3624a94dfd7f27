package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/flag"
)

const (
	dateLayout          = "2006-01-02"
	defaultFetchWorkers = 4
)

type Config struct {
	Migrations     string
	ChainsFile     string
	DB             DBConfig
	HTTPServer     ServerConfig
	MetricsServer  ServerConfig
	ApiCacheEnable bool
	CacheConfig    CacheConfig
	Indexer        IndexerConfig
	Topology       Topology
}

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

type CacheConfig struct {
	ListSize         int
	DetailSize       int
	ListExpireTime   time.Duration
	DetailExpireTime time.Duration
}

type ServerConfig struct {
	Host string
	Port int
}

type IndexerConfig struct {
	StartDate     time.Time
	FinalityDelay time.Duration
	Schedule      string
	FetchWorkers  int
	Tolerance     decimal.Decimal
}

// LoadConfig maps the cli flags, applies defaults and reads the topology file.
func LoadConfig(log log.Logger, cliCtx *cli.Context) (Config, error) {
	cfg, err := NewConfig(cliCtx)
	if err != nil {
		return Config{}, err
	}
	if cfg.Indexer.FetchWorkers <= 0 {
		cfg.Indexer.FetchWorkers = defaultFetchWorkers
	}

	topology, err := LoadTopology(cfg.ChainsFile)
	if err != nil {
		return Config{}, err
	}
	cfg.Topology = topology

	log.Info("loaded chain config", "chains", len(topology.Chains), "assets", len(topology.Assets),
		"integrations", len(topology.Integrations), "canonical", topology.CanonicalChainID)
	return cfg, nil
}

func NewConfig(ctx *cli.Context) (Config, error) {
	var start time.Time
	if s := ctx.String(flag.StartDateFlag.Name); s != "" {
		parsed, err := time.Parse(dateLayout, s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid start date: %w", err)
		}
		start = parsed
	}
	tolerance, err := decimal.NewFromString(ctx.String(flag.RevalueToleranceFlag.Name))
	if err != nil {
		return Config{}, fmt.Errorf("invalid revalue tolerance: %w", err)
	}
	return Config{
		Migrations: ctx.String(flag.MigrationsFlag.Name),
		ChainsFile: ctx.String(flag.ChainsConfigFlag.Name),
		DB: DBConfig{
			Host:     ctx.String(flag.DbHostFlag.Name),
			Port:     ctx.Int(flag.DbPortFlag.Name),
			Name:     ctx.String(flag.DbNameFlag.Name),
			User:     ctx.String(flag.DbUserFlag.Name),
			Password: ctx.String(flag.DbPasswordFlag.Name),
		},
		HTTPServer: ServerConfig{
			Host: ctx.String(flag.HttpHostFlag.Name),
			Port: ctx.Int(flag.HttpPortFlag.Name),
		},
		MetricsServer: ServerConfig{
			Host: ctx.String(flag.MetricsHostFlag.Name),
			Port: ctx.Int(flag.MetricsPortFlag.Name),
		},
		ApiCacheEnable: ctx.Bool(flag.EnableApiCacheFlag.Name),
		CacheConfig: CacheConfig{
			ListSize:         ctx.Int(flag.ApiCacheListSize.Name),
			DetailSize:       ctx.Int(flag.ApiCacheDetailSize.Name),
			ListExpireTime:   ctx.Duration(flag.ApiCacheListExpireTime.Name),
			DetailExpireTime: ctx.Duration(flag.ApiCacheDetailExpireTime.Name),
		},
		Indexer: IndexerConfig{
			StartDate:     start,
			FinalityDelay: ctx.Duration(flag.FinalityDelayFlag.Name),
			Schedule:      ctx.String(flag.ScheduleFlag.Name),
			FetchWorkers:  ctx.Int(flag.FetchWorkersFlag.Name),
			Tolerance:     tolerance,
		},
	}, nil
}
