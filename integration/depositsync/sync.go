// Package depositsync mirrors an external protocol's deposit records into
// external_deposit_references.
package depositsync

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shurcooL/graphql"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/database/reference"
)

const defaultPageSize = 500

// BigInt is a subgraph BigInt scalar, carried as a decimal string.
type BigInt string

type Config struct {
	Endpoint string
	Protocol string
	Markets  []string
	ChainID  uint64
	Asset    string
	PageSize int
}

type depositGql struct {
	ID             graphql.String
	Market         graphql.String
	Owner          graphql.String
	DepositAddress graphql.String `graphql:"depositAddress"`
	Amount         BigInt
	CreatedAt      BigInt `graphql:"createdAt"`
}

func (d depositGql) convert(cfg Config) (reference.DepositReference, error) {
	if !common.IsHexAddress(string(d.Owner)) || !common.IsHexAddress(string(d.DepositAddress)) {
		return reference.DepositReference{}, fmt.Errorf("deposit %s has a malformed address", d.ID)
	}
	amount, ok := new(big.Int).SetString(string(d.Amount), 10)
	if !ok || amount.Sign() < 0 {
		return reference.DepositReference{}, fmt.Errorf("deposit %s has a malformed amount %q", d.ID, d.Amount)
	}
	created, err := strconv.ParseInt(string(d.CreatedAt), 10, 64)
	if err != nil {
		return reference.DepositReference{}, fmt.Errorf("deposit %s has a malformed createdAt: %w", d.ID, err)
	}
	return reference.DepositReference{
		DepositID:       string(d.ID),
		Protocol:        cfg.Protocol,
		Market:          strings.ToLower(string(d.Market)),
		ChainID:         cfg.ChainID,
		Asset:           cfg.Asset,
		Owner:           common.HexToAddress(string(d.Owner)),
		DepositAddress:  common.HexToAddress(string(d.DepositAddress)),
		Amount:          amount,
		SourceCreatedAt: time.Unix(created, 0).UTC(),
	}, nil
}

// Syncer pages through the deposit listing of one protocol, market by
// market. A market with no stored records is fetched in full; later syncs
// only fetch records created at or after that market's newest stored one.
type Syncer struct {
	log    log.Logger
	cfg    Config
	client *graphql.Client
	refs   reference.DepositReferenceDB
}

func NewSyncer(log log.Logger, cfg Config, refs reference.DepositReferenceDB) *Syncer {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	return newSyncer(log, cfg, refs, rc.StandardClient())
}

func newSyncer(log log.Logger, cfg Config, refs reference.DepositReferenceDB, httpClient *http.Client) *Syncer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Syncer{
		log:    log.New("module", "depositsync", "protocol", cfg.Protocol),
		cfg:    cfg,
		client: graphql.NewClient(cfg.Endpoint, httpClient),
		refs:   refs,
	}
}

func (s *Syncer) Protocol() string {
	return s.cfg.Protocol
}

// Sync fetches new deposit records and stores them. It returns how many
// records were written.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	total := 0
	for _, market := range s.cfg.Markets {
		since, err := s.resumeFrom(market)
		if err != nil {
			return total, err
		}
		n, err := s.syncMarket(ctx, market, since)
		if err != nil {
			return total, err
		}
		total += n

		mode := "full"
		if !since.IsZero() {
			mode = "delta"
		}
		s.log.Info("deposit references synced", "market", market, "mode", mode, "since", since, "stored", n)
	}
	return total, nil
}

// resumeFrom returns the zero time for a market without stored records.
func (s *Syncer) resumeFrom(market string) (time.Time, error) {
	count, err := s.refs.CountDeposits(s.cfg.Protocol, market)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to count deposit references for market %s: %w", market, err)
	}
	if count == 0 {
		return time.Time{}, nil
	}
	since, err := s.refs.LatestDepositTime(s.cfg.Protocol, market)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest deposit time for market %s: %w", market, err)
	}
	return since, nil
}

func (s *Syncer) syncMarket(ctx context.Context, market string, since time.Time) (int, error) {
	stored := 0
	for skip := 0; ; skip += s.cfg.PageSize {
		var query struct {
			Deposits []depositGql `graphql:"deposits(first: $first, skip: $skip, where: {market: $market, createdAt_gte: $since}, orderBy: createdAt, orderDirection: asc)"`
		}
		variables := map[string]interface{}{
			"first":  graphql.Int(s.cfg.PageSize),
			"skip":   graphql.Int(skip),
			"market": graphql.String(strings.ToLower(market)),
			"since":  BigInt(strconv.FormatInt(since.Unix(), 10)),
		}
		if since.IsZero() {
			variables["since"] = BigInt("0")
		}
		if err := s.client.Query(ctx, &query, variables); err != nil {
			return stored, fmt.Errorf("failed to query deposits for market %s: %w", market, err)
		}

		refs := make([]reference.DepositReference, 0, len(query.Deposits))
		for _, d := range query.Deposits {
			ref, err := d.convert(s.cfg)
			if err != nil {
				return stored, err
			}
			refs = append(refs, ref)
		}
		if err := s.refs.StoreDeposits(refs); err != nil {
			return stored, fmt.Errorf("failed to store deposit references: %w", err)
		}
		stored += len(refs)
		if len(query.Deposits) < s.cfg.PageSize {
			return stored, nil
		}
	}
}
