package models

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethereum/go-ethereum/common"
)

type QueryAddressParams struct {
	Address common.Address
}

type QueryDateParams struct {
	Date    time.Time
	Address *common.Address
}

type QueryEventsParams struct {
	Address common.Address
	Limit   int
}

// Amount carries a raw integer amount and the same value scaled by the
// asset's decimals.
type Amount struct {
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
}

func NewAmount(v *big.Int, decimals uint8) Amount {
	if v == nil {
		v = new(big.Int)
	}
	return Amount{
		Raw:       v.String(),
		Formatted: decimal.NewFromBigInt(v, -int32(decimals)).String(),
	}
}

type BalanceItem struct {
	Asset          string    `json:"asset"`
	Shares         Amount    `json:"shares"`
	Underlying     Amount    `json:"underlying"`
	ValuationRound uint64    `json:"valuationRound"`
	Stale          bool      `json:"stale"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type BalancesResponse struct {
	Address  string        `json:"address"`
	Balances []BalanceItem `json:"balances"`
}

type PositionItem struct {
	Protocol   string    `json:"protocol"`
	Contract   string    `json:"contract"`
	Asset      string    `json:"asset"`
	Shares     Amount    `json:"shares"`
	Underlying Amount    `json:"underlying"`
	Stale      bool      `json:"stale"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type IntegrationsResponse struct {
	Address   string         `json:"address"`
	Positions []PositionItem `json:"positions"`
}

type AssetSnapshot struct {
	Asset           string `json:"asset"`
	TotalShares     Amount `json:"totalShares"`
	TotalUnderlying Amount `json:"totalUnderlying"`
	Holders         uint64 `json:"holders"`
	PricePerShare   string `json:"pricePerShare"`
	ValuationRound  uint64 `json:"valuationRound"`
	Stale           bool   `json:"stale"`
}

type SnapshotResponse struct {
	Date   string          `json:"date"`
	Assets []AssetSnapshot `json:"assets"`
}

type UserSnapshotItem struct {
	Asset      string `json:"asset"`
	Protocol   string `json:"protocol,omitempty"`
	Contract   string `json:"contract,omitempty"`
	Shares     Amount `json:"shares"`
	Underlying Amount `json:"underlying"`
}

type UserSnapshotResponse struct {
	Date      string             `json:"date"`
	Address   string             `json:"address"`
	Positions []UserSnapshotItem `json:"positions"`
}

type EventItem struct {
	ChainID     uint64  `json:"chainId"`
	TxHash      string  `json:"txHash"`
	LogIndex    uint    `json:"logIndex"`
	BlockNumber uint64  `json:"blockNumber"`
	Date        string  `json:"date"`
	Asset       string  `json:"asset"`
	Kind        string  `json:"kind"`
	Tag         string  `json:"tag,omitempty"`
	Sender      string  `json:"sender"`
	Receiver    string  `json:"receiver"`
	Amount      Amount  `json:"amount"`
	Round       *uint64 `json:"round,omitempty"`
	PeerChainID uint64  `json:"peerChainId,omitempty"`
}

type EventsResponse struct {
	Address string      `json:"address"`
	Events  []EventItem `json:"events"`
}
