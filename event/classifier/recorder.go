package classifier

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/metrics"
)

type BookSource interface {
	Book() *AddressBook
}

// Recorder decodes a chain's logs for one day and stores them idempotently.
type Recorder struct {
	log     log.Logger
	decoder *Decoder
	books   BookSource
	events  event.ChainEventDB
	metrics metrics.Metricer
}

func NewRecorder(log log.Logger, books BookSource, events event.ChainEventDB, m metrics.Metricer) *Recorder {
	return &Recorder{
		log:     log.New("module", "recorder"),
		decoder: NewDecoder(log),
		books:   books,
		events:  events,
		metrics: m,
	}
}

// Record returns the number of events written or already present.
func (r *Recorder) Record(chainID uint64, date time.Time, logs []types.Log) (int, error) {
	book := r.books.Book()

	seen := make(map[event.Key]struct{}, len(logs))
	events := make([]event.ChainEvent, 0, len(logs))
	counts := make(map[event.Kind]int)
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := r.decoder.Decode(book, chainID, date, lg)
		if err != nil {
			return 0, err
		}
		if ev == nil {
			continue
		}
		if _, dup := seen[ev.Key()]; dup {
			continue
		}
		seen[ev.Key()] = struct{}{}
		events = append(events, *ev)
		counts[ev.Kind]++
	}

	if err := r.events.StoreChainEvents(events); err != nil {
		return 0, fmt.Errorf("failed to store chain events for chain %d: %w", chainID, err)
	}
	for kind, n := range counts {
		r.metrics.RecordEvents(chainID, string(kind), n)
	}
	r.log.Info("recorded chain events", "chain", chainID, "date", date.Format("2006-01-02"), "logs", len(logs), "events", len(events))
	return len(events), nil
}
