package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/weftworks/weft/pkg/logger"
)

const (
	walKeyPrefix      = "wal:"
	walSequencePrefix = "wal-seq:"
)

// EventType identifies one run lifecycle event.
type EventType string

const (
	EventStepStarted           EventType = "step_started"
	EventStepCompleted         EventType = "step_completed"
	EventStepFailed            EventType = "step_failed"
	EventCompensationStarted   EventType = "compensation_started"
	EventCompensationCompleted EventType = "compensation_completed"
	EventCompensationFailed    EventType = "compensation_failed"
	EventRunStateChanged       EventType = "run_state_changed"
)

// Event is one durable append-only record of a run state change.
type Event struct {
	Sequence  uint64    `json:"sequence"`
	RunID     string    `json:"run_id"`
	Action    string    `json:"action,omitempty"`
	Type      EventType `json:"type"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WriteMode controls whether WAL appends flush before returning.
type WriteMode string

const (
	// WriteModeSync flushes each append before return.
	WriteModeSync WriteMode = "sync"
	// WriteModeAsync enqueues appends and flushes in background.
	WriteModeAsync WriteMode = "async"
)

// EventLog provides append-only event logging for run state changes.
type EventLog interface {
	Append(ctx context.Context, event Event) (uint64, error)
	List(ctx context.Context, runID string) ([]Event, error)
	DeleteByRunID(ctx context.Context, runID string) error
	Close() error
}

// WALOptions configures a Badger-backed event log.
type WALOptions struct {
	WriteMode      WriteMode
	AsyncQueueSize int
	Logger         logger.Logger
}

type walAppend struct {
	event Event
}

// BadgerWAL implements EventLog on top of Badger.
type BadgerWAL struct {
	db        *badger.DB
	ownsDB    bool
	writeMode WriteMode
	logger    logger.Logger

	appendCh chan walAppend
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// OpenBadgerWAL opens a dedicated Badger database for the event log.
func OpenBadgerWAL(path string, options WALOptions) (*BadgerWAL, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger wal: %w", err)
	}
	wal, err := NewBadgerWAL(db, options)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	wal.ownsDB = true
	return wal, nil
}

// NewBadgerWAL creates an event log over an existing Badger DB.
func NewBadgerWAL(db *badger.DB, options WALOptions) (*BadgerWAL, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	if options.WriteMode == "" {
		options.WriteMode = WriteModeSync
	}
	if options.AsyncQueueSize <= 0 {
		options.AsyncQueueSize = 1024
	}
	if options.WriteMode != WriteModeSync && options.WriteMode != WriteModeAsync {
		return nil, fmt.Errorf("unsupported wal write mode: %s", options.WriteMode)
	}

	if options.Logger == nil {
		options.Logger = logger.Global()
	}

	wal := &BadgerWAL{
		db:        db,
		writeMode: options.WriteMode,
		logger:    options.Logger,
		stopCh:    make(chan struct{}),
	}
	if options.WriteMode == WriteModeAsync {
		wal.appendCh = make(chan walAppend, options.AsyncQueueSize)
		wal.wg.Add(1)
		go wal.runAsyncWriter()
	}
	return wal, nil
}

// Append appends one event and returns its per-run sequence number.
func (w *BadgerWAL) Append(ctx context.Context, event Event) (uint64, error) {
	if event.RunID == "" {
		return 0, fmt.Errorf("wal event run_id cannot be empty")
	}
	if event.Type == "" {
		return 0, fmt.Errorf("wal event type cannot be empty")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = nowUTC()
	}

	sequence, err := w.nextSequence(event.RunID)
	if err != nil {
		return 0, err
	}
	event.Sequence = sequence

	if w.writeMode == WriteModeAsync {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-w.stopCh:
			return 0, fmt.Errorf("wal is closed")
		case w.appendCh <- walAppend{event: event}:
			return sequence, nil
		default:
			// Queue full: fall back to a synchronous write.
			if err := w.writeEvent(ctx, event); err != nil {
				return 0, err
			}
			return sequence, nil
		}
	}

	if err := w.writeEvent(ctx, event); err != nil {
		return 0, err
	}
	return sequence, nil
}

// List returns all events for a run in sequence order.
func (w *BadgerWAL) List(ctx context.Context, runID string) ([]Event, error) {
	prefix := []byte(walPrefixForRun(runID))
	events := make([]Event, 0)

	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			var event Event
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &event)
			}); err != nil {
				return fmt.Errorf("decode wal event: %w", err)
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteByRunID removes all events and the sequence counter for a run.
func (w *BadgerWAL) DeleteByRunID(ctx context.Context, runID string) error {
	prefix := []byte(walPrefixForRun(runID))
	keys := make([][]byte, 0)

	if err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	}); err != nil {
		return err
	}

	return w.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		_ = txn.Delete([]byte(walSequenceKey(runID)))
		return nil
	})
}

// Close stops the background writer, draining queued appends, and closes
// the db if owned. The append channel stays open so a concurrent Append
// can never send on a closed channel.
func (w *BadgerWAL) Close() error {
	close(w.stopCh)
	w.wg.Wait()
	if w.ownsDB {
		return w.db.Close()
	}
	return nil
}

func (w *BadgerWAL) runAsyncWriter() {
	defer w.wg.Done()
	for {
		select {
		case req := <-w.appendCh:
			w.writeAsync(req)
		case <-w.stopCh:
			for {
				select {
				case req := <-w.appendCh:
					w.writeAsync(req)
				default:
					return
				}
			}
		}
	}
}

// writeAsync persists an accepted append. Accepted events are written
// with a fresh context so a cancelled caller cannot void them.
func (w *BadgerWAL) writeAsync(req walAppend) {
	if err := w.writeEvent(context.Background(), req.event); err != nil {
		w.logger.Warn("wal append dropped",
			"error", err,
			"run_id", req.event.RunID,
			"type", string(req.event.Type),
			"sequence", req.event.Sequence,
		)
	}
}

func (w *BadgerWAL) writeEvent(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal wal event: %w", err)
	}
	key := []byte(walEventKey(event.RunID, event.Sequence))
	return w.db.Update(func(txn *badger.Txn) error {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func (w *BadgerWAL) nextSequence(runID string) (uint64, error) {
	key := []byte(walSequenceKey(runID))
	var next uint64
	err := w.db.Update(func(txn *badger.Txn) error {
		current := uint64(0)
		item, err := txn.Get(key)
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error {
				parsed, parseErr := strconv.ParseUint(string(v), 10, 64)
				if parseErr != nil {
					return parseErr
				}
				current = parsed
				return nil
			}); err != nil {
				return err
			}
		case err == badger.ErrKeyNotFound:
		default:
			return err
		}
		next = current + 1
		return txn.Set(key, []byte(strconv.FormatUint(next, 10)))
	})
	if err != nil {
		return 0, fmt.Errorf("next wal sequence: %w", err)
	}
	return next, nil
}

func walPrefixForRun(runID string) string {
	return fmt.Sprintf("%s%s:", walKeyPrefix, runID)
}

func walSequenceKey(runID string) string {
	return walSequencePrefix + runID
}

func walEventKey(runID string, sequence uint64) string {
	return fmt.Sprintf("%s%s:%020d", walKeyPrefix, runID, sequence)
}
