// Package memdb keeps every droplets table in memory behind the same
// interfaces as the postgres-backed database package. It is used by tests.
package memdb

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/common/bigint"
	"github.com/wjorgensen/StreamDroplets/database"
	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/database/progress"
	"github.com/wjorgensen/StreamDroplets/database/reference"
	"github.com/wjorgensen/StreamDroplets/database/snapshot"
	"github.com/wjorgensen/StreamDroplets/database/utils"
)

type integrationEventKey struct {
	protocol string
	key      event.Key
}

type Store struct {
	mu sync.Mutex

	chainEvents       map[event.Key]event.ChainEvent
	integrationEvents map[integrationEventKey]event.IntegrationEvent
	shares            map[balance.Key]balance.ShareBalance
	positions         map[balance.IntegrationKey]balance.IntegrationBalance
	cursors           map[uint64]progress.ProgressCursor
	daily             map[time.Time][]snapshot.DailySnapshot
	users             map[time.Time][]snapshot.UserDailySnapshot
	prices            map[string]reference.PriceCache
	deposits          map[string]reference.DepositReference
}

func New() *Store {
	return &Store{
		chainEvents:       make(map[event.Key]event.ChainEvent),
		integrationEvents: make(map[integrationEventKey]event.IntegrationEvent),
		shares:            make(map[balance.Key]balance.ShareBalance),
		positions:         make(map[balance.IntegrationKey]balance.IntegrationBalance),
		cursors:           make(map[uint64]progress.ProgressCursor),
		daily:             make(map[time.Time][]snapshot.DailySnapshot),
		users:             make(map[time.Time][]snapshot.UserDailySnapshot),
		prices:            make(map[string]reference.PriceCache),
		deposits:          make(map[string]reference.DepositReference),
	}
}

// chain_events

func (s *Store) StoreChainEvents(events []event.ChainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if _, ok := s.chainEvents[ev.Key()]; ok {
			continue
		}
		ev.Amount = bigint.Clone(ev.Amount)
		ev.EventDate = utils.Day(ev.EventDate)
		s.chainEvents[ev.Key()] = ev
	}
	return nil
}

func (s *Store) ChainEventsForDate(date time.Time, tags ...event.Tag) ([]event.ChainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	date = utils.Day(date)
	var out []event.ChainEvent
	for _, ev := range s.chainEvents {
		if !ev.EventDate.Equal(date) || !hasTag(tags, ev.Tag) {
			continue
		}
		ev.Amount = bigint.Clone(ev.Amount)
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if c := bytes.Compare(a.TxHash[:], b.TxHash[:]); c != 0 {
			return c < 0
		}
		return a.LogIndex < b.LogIndex
	})
	return out, nil
}

func hasTag(tags []event.Tag, tag event.Tag) bool {
	if len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (s *Store) ChainEventsForAddress(address common.Address, limit int) ([]event.ChainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.ChainEvent
	for _, ev := range s.chainEvents {
		if ev.Sender == address || ev.Receiver == address {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber > out[j].BlockNumber
		}
		return out[i].LogIndex > out[j].LogIndex
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteChainEventsForDate(date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	date = utils.Day(date)
	for key, ev := range s.chainEvents {
		if ev.EventDate.Equal(date) {
			delete(s.chainEvents, key)
		}
	}
	return nil
}

// integration_events

func (s *Store) StoreIntegrationEvents(events []event.IntegrationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		key := integrationEventKey{protocol: ev.Protocol, key: ev.Key()}
		if _, ok := s.integrationEvents[key]; ok {
			continue
		}
		ev.SharesDelta = bigint.Clone(ev.SharesDelta)
		ev.UnderlyingDelta = bigint.Clone(ev.UnderlyingDelta)
		ev.EventDate = utils.Day(ev.EventDate)
		s.integrationEvents[key] = ev
	}
	return nil
}

func (s *Store) IntegrationEventsForDate(date time.Time, protocol string) ([]event.IntegrationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	date = utils.Day(date)
	var out []event.IntegrationEvent
	for _, ev := range s.integrationEvents {
		if !ev.EventDate.Equal(date) || (protocol != "" && ev.Protocol != protocol) {
			continue
		}
		ev.SharesDelta = bigint.Clone(ev.SharesDelta)
		ev.UnderlyingDelta = bigint.Clone(ev.UnderlyingDelta)
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ChainID != b.ChainID {
			return a.ChainID < b.ChainID
		}
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if c := bytes.Compare(a.TxHash[:], b.TxHash[:]); c != 0 {
			return c < 0
		}
		return a.LogIndex < b.LogIndex
	})
	return out, nil
}

func (s *Store) DeleteIntegrationEventsForDate(date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	date = utils.Day(date)
	for key, ev := range s.integrationEvents {
		if ev.EventDate.Equal(date) {
			delete(s.integrationEvents, key)
		}
	}
	return nil
}

// share_balances

func cloneShare(row balance.ShareBalance) balance.ShareBalance {
	row.Shares = bigint.Clone(row.Shares)
	row.Underlying = bigint.Clone(row.Underlying)
	return row
}

func (s *Store) ShareBalancesByKeys(keys []balance.Key) ([]balance.ShareBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []balance.ShareBalance
	for _, key := range keys {
		if row, ok := s.shares[key]; ok {
			out = append(out, cloneShare(row))
		}
	}
	return out, nil
}

func (s *Store) ShareBalancesByAsset(asset string) ([]balance.ShareBalance, error) {
	return s.filterShares(func(row balance.ShareBalance) bool { return row.Asset == asset }), nil
}

func (s *Store) ShareBalancesByAddress(address common.Address) ([]balance.ShareBalance, error) {
	return s.filterShares(func(row balance.ShareBalance) bool { return row.Address == address }), nil
}

func (s *Store) AllShareBalances() ([]balance.ShareBalance, error) {
	return s.filterShares(func(balance.ShareBalance) bool { return true }), nil
}

func (s *Store) filterShares(keep func(balance.ShareBalance) bool) []balance.ShareBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []balance.ShareBalance
	for _, row := range s.shares {
		if keep(row) {
			out = append(out, cloneShare(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Address.Hex() < out[j].Address.Hex()
	})
	return out
}

func (s *Store) CommitShareBalances(upserts []balance.ShareBalance, deletes []balance.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range deletes {
		delete(s.shares, key)
	}
	for _, row := range upserts {
		s.shares[row.Key()] = cloneShare(row)
	}
	return nil
}

func (s *Store) UpdateShareValuations(rows []balance.ShareBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		current, ok := s.shares[row.Key()]
		if !ok {
			continue
		}
		current.Underlying = bigint.Clone(row.Underlying)
		current.ValuationRound = row.ValuationRound
		current.ValuationStale = row.ValuationStale
		s.shares[row.Key()] = current
	}
	return nil
}

func (s *Store) MarkShareValuationsStale(asset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, row := range s.shares {
		if row.Asset == asset {
			row.ValuationStale = true
			s.shares[key] = row
		}
	}
	return nil
}

// integration_balances

func clonePosition(row balance.IntegrationBalance) balance.IntegrationBalance {
	row.Shares = bigint.Clone(row.Shares)
	row.Underlying = bigint.Clone(row.Underlying)
	return row
}

func (s *Store) IntegrationBalancesByKeys(keys []balance.IntegrationKey) ([]balance.IntegrationBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []balance.IntegrationBalance
	for _, key := range keys {
		if row, ok := s.positions[key]; ok {
			out = append(out, clonePosition(row))
		}
	}
	return out, nil
}

func (s *Store) IntegrationBalancesByProtocol(protocol string) ([]balance.IntegrationBalance, error) {
	return s.filterPositions(func(row balance.IntegrationBalance) bool { return row.Protocol == protocol }), nil
}

func (s *Store) IntegrationBalancesByAddress(address common.Address) ([]balance.IntegrationBalance, error) {
	return s.filterPositions(func(row balance.IntegrationBalance) bool { return row.Address == address }), nil
}

func (s *Store) AllIntegrationBalances() ([]balance.IntegrationBalance, error) {
	return s.filterPositions(func(balance.IntegrationBalance) bool { return true }), nil
}

func (s *Store) filterPositions(keep func(balance.IntegrationBalance) bool) []balance.IntegrationBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []balance.IntegrationBalance
	for _, row := range s.positions {
		if keep(row) {
			out = append(out, clonePosition(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		if a.Contract != b.Contract {
			return a.Contract.Hex() < b.Contract.Hex()
		}
		return a.Address.Hex() < b.Address.Hex()
	})
	return out
}

func (s *Store) CommitIntegrationBalances(upserts []balance.IntegrationBalance, deletes []balance.IntegrationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range deletes {
		delete(s.positions, key)
	}
	for _, row := range upserts {
		s.positions[row.Key()] = clonePosition(row)
	}
	return nil
}

func (s *Store) UpdateIntegrationValuations(rows []balance.IntegrationBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		current, ok := s.positions[row.Key()]
		if !ok {
			continue
		}
		current.Underlying = bigint.Clone(row.Underlying)
		current.ValuationStale = row.ValuationStale
		s.positions[row.Key()] = current
	}
	return nil
}

// progress_cursors

func (s *Store) Cursor(chainID uint64) (*progress.ProgressCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.cursors[chainID]
	if !ok {
		return nil, nil
	}
	return &cursor, nil
}

func (s *Store) Cursors() ([]progress.ProgressCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progress.ProgressCursor, 0, len(s.cursors))
	for _, cursor := range s.cursors {
		out = append(out, cursor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out, nil
}

func (s *Store) AdvanceCursor(cursor progress.ProgressCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceCursor(cursor)
}

func (s *Store) advanceCursor(cursor progress.ProgressCursor) error {
	if current, ok := s.cursors[cursor.ChainID]; ok {
		if err := progress.CheckAdvance(current, cursor); err != nil {
			return err
		}
	}
	cursor.LastProcessedDate = utils.Day(cursor.LastProcessedDate)
	s.cursors[cursor.ChainID] = cursor
	return nil
}

// snapshots

func (s *Store) DailySnapshots(date time.Time) ([]snapshot.DailySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]snapshot.DailySnapshot(nil), s.daily[utils.Day(date)]...), nil
}

func (s *Store) UserSnapshots(date time.Time) ([]snapshot.UserDailySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]snapshot.UserDailySnapshot(nil), s.users[utils.Day(date)]...), nil
}

func (s *Store) UserSnapshotsForAddress(date time.Time, address common.Address) ([]snapshot.UserDailySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []snapshot.UserDailySnapshot
	for _, row := range s.users[utils.Day(date)] {
		if row.Address == address {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Store) LatestSnapshotDate() (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for date, rows := range s.daily {
		if len(rows) == 0 {
			continue
		}
		if latest == nil || date.After(*latest) {
			d := date
			latest = &d
		}
	}
	return latest, nil
}

func (s *Store) StoreSnapshots(daily []snapshot.DailySnapshot, users []snapshot.UserDailySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeSnapshots(daily, users)
	return nil
}

func (s *Store) storeSnapshots(daily []snapshot.DailySnapshot, users []snapshot.UserDailySnapshot) {
	for _, row := range daily {
		date := utils.Day(row.Date)
		s.daily[date] = append(s.daily[date], row)
	}
	for _, row := range users {
		date := utils.Day(row.Date)
		s.users[date] = append(s.users[date], row)
	}
}

func (s *Store) DeleteSnapshotsForDate(date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.daily, utils.Day(date))
	delete(s.users, utils.Day(date))
	return nil
}

// price_caches

func (s *Store) PriceCache(asset string) (*reference.PriceCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.prices[asset]
	if !ok {
		return nil, nil
	}
	row.PricePerShare = bigint.Clone(row.PricePerShare)
	return &row, nil
}

func (s *Store) StorePriceCache(row reference.PriceCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.PricePerShare = bigint.Clone(row.PricePerShare)
	s.prices[row.Asset] = row
	return nil
}

// external_deposit_references

func (s *Store) CountDeposits(protocol, market string) (int64, error) {
	var n int64
	for _, ref := range s.depositsFor(protocol) {
		if strings.EqualFold(ref.Market, market) {
			n++
		}
	}
	return n, nil
}

func (s *Store) LatestDepositTime(protocol, market string) (time.Time, error) {
	var latest time.Time
	for _, ref := range s.depositsFor(protocol) {
		if strings.EqualFold(ref.Market, market) && ref.SourceCreatedAt.After(latest) {
			latest = ref.SourceCreatedAt
		}
	}
	return latest, nil
}

func (s *Store) DepositsForProtocol(protocol string) ([]reference.DepositReference, error) {
	return s.depositsFor(protocol), nil
}

func (s *Store) depositsFor(protocol string) []reference.DepositReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reference.DepositReference
	for _, ref := range s.deposits {
		if ref.Protocol == protocol {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SourceCreatedAt.Equal(out[j].SourceCreatedAt) {
			return out[i].SourceCreatedAt.Before(out[j].SourceCreatedAt)
		}
		return out[i].DepositID < out[j].DepositID
	})
	return out
}

func (s *Store) StoreDeposits(refs []reference.DepositReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range refs {
		ref.Amount = bigint.Clone(ref.Amount)
		s.deposits[ref.DepositID] = ref
	}
	return nil
}

// composite writes

// RollbackDate mirrors database.DB.RollbackDate.
func (s *Store) RollbackDate(plan database.RollbackPlan) error {
	if err := s.CommitShareBalances(plan.ShareRestores, plan.ShareDeletes); err != nil {
		return err
	}
	if err := s.CommitIntegrationBalances(plan.IntegrationRestores, plan.IntegrationDeletes); err != nil {
		return err
	}
	if err := s.DeleteChainEventsForDate(plan.Date); err != nil {
		return err
	}
	if err := s.DeleteIntegrationEventsForDate(plan.Date); err != nil {
		return err
	}
	return s.DeleteSnapshotsForDate(plan.Date)
}

// FinalizeDay mirrors database.DB.FinalizeDay. Cursors are checked before
// anything is written so a regression leaves the store untouched.
func (s *Store) FinalizeDay(day database.DayClose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cursor := range day.Cursors {
		if current, ok := s.cursors[cursor.ChainID]; ok {
			if err := progress.CheckAdvance(current, cursor); err != nil {
				return err
			}
		}
	}
	s.storeSnapshots(day.Daily, day.Users)
	for _, cursor := range day.Cursors {
		if err := s.advanceCursor(cursor); err != nil {
			return err
		}
	}
	return nil
}

// PartialDates mirrors database.DB.PartialDates.
func (s *Store) PartialDates() ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[time.Time]struct{})
	for _, ev := range s.chainEvents {
		seen[ev.EventDate] = struct{}{}
	}
	for _, ev := range s.integrationEvents {
		seen[ev.EventDate] = struct{}{}
	}
	var dates []time.Time
	for date := range seen {
		if len(s.daily[date]) == 0 {
			dates = append(dates, date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}
