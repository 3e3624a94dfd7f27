package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/api/models"
	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/database/snapshot"
	"github.com/wjorgensen/StreamDroplets/database/utils"
)

// ErrNotFound is returned when a date has no finalized snapshot.
var ErrNotFound = errors.New("not found")

const latestDate = "latest"

type Service interface {
	GetBalances(*models.QueryAddressParams) (*models.BalancesResponse, error)
	GetIntegrations(*models.QueryAddressParams) (*models.IntegrationsResponse, error)
	GetSnapshot(*models.QueryDateParams) (*models.SnapshotResponse, error)
	GetUserSnapshot(*models.QueryDateParams) (*models.UserSnapshotResponse, error)
	GetEvents(*models.QueryEventsParams) (*models.EventsResponse, error)

	QueryAddressParams(address string) (*models.QueryAddressParams, error)
	QueryDateParams(date string, address string) (*models.QueryDateParams, error)
	QueryEventsParams(address string, limit string) (*models.QueryEventsParams, error)
}

type HandlerSvc struct {
	logger           log.Logger
	v                *Validator
	shareView        balance.ShareBalanceView
	integrationView  balance.IntegrationBalanceView
	snapshotView     snapshot.SnapshotView
	eventView        event.ChainEventView
	decimals         map[string]uint8
	fallbackDecimals uint8
}

// New builds the query service. decimals maps each asset symbol to the
// scale used for the formatted amounts.
func New(v *Validator, sv balance.ShareBalanceView, iv balance.IntegrationBalanceView, snv snapshot.SnapshotView, ev event.ChainEventView, decimals map[string]uint8, l log.Logger) Service {
	return &HandlerSvc{
		logger:           l,
		v:                v,
		shareView:        sv,
		integrationView:  iv,
		snapshotView:     snv,
		eventView:        ev,
		decimals:         decimals,
		fallbackDecimals: 18,
	}
}

func (h HandlerSvc) scale(asset string) uint8 {
	if d, ok := h.decimals[asset]; ok {
		return d
	}
	return h.fallbackDecimals
}

func (h HandlerSvc) GetBalances(params *models.QueryAddressParams) (*models.BalancesResponse, error) {
	rows, err := h.shareView.ShareBalancesByAddress(params.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read share balances: %w", err)
	}
	items := make([]models.BalanceItem, 0, len(rows))
	for _, row := range rows {
		d := h.scale(row.Asset)
		items = append(items, models.BalanceItem{
			Asset:          row.Asset,
			Shares:         models.NewAmount(row.Shares, d),
			Underlying:     models.NewAmount(row.Underlying, d),
			ValuationRound: row.ValuationRound,
			Stale:          row.ValuationStale,
			UpdatedAt:      row.UpdatedAt,
		})
	}
	return &models.BalancesResponse{Address: params.Address.Hex(), Balances: items}, nil
}

func (h HandlerSvc) GetIntegrations(params *models.QueryAddressParams) (*models.IntegrationsResponse, error) {
	rows, err := h.integrationView.IntegrationBalancesByAddress(params.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read integration balances: %w", err)
	}
	items := make([]models.PositionItem, 0, len(rows))
	for _, row := range rows {
		d := h.scale(row.Asset)
		items = append(items, models.PositionItem{
			Protocol:   row.Protocol,
			Contract:   row.Contract.Hex(),
			Asset:      row.Asset,
			Shares:     models.NewAmount(row.Shares, d),
			Underlying: models.NewAmount(row.Underlying, d),
			Stale:      row.ValuationStale,
			UpdatedAt:  row.UpdatedAt,
		})
	}
	return &models.IntegrationsResponse{Address: params.Address.Hex(), Positions: items}, nil
}

func (h HandlerSvc) GetSnapshot(params *models.QueryDateParams) (*models.SnapshotResponse, error) {
	rows, err := h.snapshotView.DailySnapshots(params.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily snapshots: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	items := make([]models.AssetSnapshot, 0, len(rows))
	for _, row := range rows {
		d := h.scale(row.Asset)
		pps := "0"
		if row.PricePerShare != nil {
			pps = row.PricePerShare.String()
		}
		items = append(items, models.AssetSnapshot{
			Asset:           row.Asset,
			TotalShares:     models.NewAmount(row.TotalShares, d),
			TotalUnderlying: models.NewAmount(row.TotalUnderlying, d),
			Holders:         row.Holders,
			PricePerShare:   pps,
			ValuationRound:  row.ValuationRound,
			Stale:           row.Stale,
		})
	}
	return &models.SnapshotResponse{Date: utils.DateParam(params.Date), Assets: items}, nil
}

func (h HandlerSvc) GetUserSnapshot(params *models.QueryDateParams) (*models.UserSnapshotResponse, error) {
	if params.Address == nil {
		return nil, errors.New("address is required")
	}
	daily, err := h.snapshotView.DailySnapshots(params.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily snapshots: %w", err)
	}
	if len(daily) == 0 {
		return nil, ErrNotFound
	}
	rows, err := h.snapshotView.UserSnapshotsForAddress(params.Date, *params.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read user snapshots: %w", err)
	}
	items := make([]models.UserSnapshotItem, 0, len(rows))
	for _, row := range rows {
		d := h.scale(row.Asset)
		item := models.UserSnapshotItem{
			Asset:      row.Asset,
			Shares:     models.NewAmount(row.Shares, d),
			Underlying: models.NewAmount(row.Underlying, d),
		}
		if !row.Direct() {
			item.Protocol = row.Protocol
			item.Contract = row.Contract.Hex()
		}
		items = append(items, item)
	}
	return &models.UserSnapshotResponse{
		Date:      utils.DateParam(params.Date),
		Address:   params.Address.Hex(),
		Positions: items,
	}, nil
}

func (h HandlerSvc) GetEvents(params *models.QueryEventsParams) (*models.EventsResponse, error) {
	rows, err := h.eventView.ChainEventsForAddress(params.Address, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain events: %w", err)
	}
	items := make([]models.EventItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, models.EventItem{
			ChainID:     row.ChainID,
			TxHash:      row.TxHash.Hex(),
			LogIndex:    row.LogIndex,
			BlockNumber: row.BlockNumber,
			Date:        utils.DateParam(row.EventDate),
			Asset:       row.Asset,
			Kind:        string(row.Kind),
			Tag:         string(row.Tag),
			Sender:      row.Sender.Hex(),
			Receiver:    row.Receiver.Hex(),
			Amount:      models.NewAmount(row.Amount, h.scale(row.Asset)),
			Round:       row.Round,
			PeerChainID: row.PeerChainID,
		})
	}
	return &models.EventsResponse{Address: params.Address.Hex(), Events: items}, nil
}

func (h HandlerSvc) QueryAddressParams(address string) (*models.QueryAddressParams, error) {
	addr, err := h.v.ParseValidateAddress(address)
	if err != nil {
		return nil, err
	}
	return &models.QueryAddressParams{Address: addr}, nil
}

// QueryDateParams accepts a YYYY-MM-DD date or "latest", the newest
// finalized day. address is optional.
func (h HandlerSvc) QueryDateParams(date string, address string) (*models.QueryDateParams, error) {
	params := &models.QueryDateParams{}
	if strings.EqualFold(date, latestDate) {
		latest, err := h.snapshotView.LatestSnapshotDate()
		if err != nil {
			return nil, fmt.Errorf("failed to read latest snapshot date: %w", err)
		}
		if latest == nil {
			return nil, ErrNotFound
		}
		params.Date = *latest
	} else {
		d, err := h.v.ParseValidateDate(date)
		if err != nil {
			return nil, err
		}
		params.Date = d
	}
	if address != "" {
		addr, err := h.v.ParseValidateAddress(address)
		if err != nil {
			return nil, err
		}
		params.Address = &addr
	}
	return params, nil
}

func (h HandlerSvc) QueryEventsParams(address string, limit string) (*models.QueryEventsParams, error) {
	addr, err := h.v.ParseValidateAddress(address)
	if err != nil {
		return nil, err
	}
	n, err := h.v.ValidateLimit(limit)
	if err != nil {
		return nil, err
	}
	return &models.QueryEventsParams{Address: addr, Limit: n}, nil
}
