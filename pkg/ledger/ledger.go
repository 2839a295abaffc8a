// Package ledger keeps a BadgerDB audit trail of the stream ranges appended
// to and consumed from each pool location.
//
// The ledger never stores random bytes, only offsets and lengths. It backs
// the "randpool audit" command, which proves from the trail that no range
// was ever handed out twice.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/randpool/internal/logger"
	"github.com/marmos91/randpool/pkg/metrics"
)

// Config configures Open.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the ledger in memory only.
	InMemory bool

	// SyncWrites fsyncs every entry before returning.
	SyncWrites bool

	// Metrics may be nil.
	Metrics metrics.LedgerMetrics
}

// Ledger is a BadgerDB-backed audit trail. It satisfies pool.Journal.
type Ledger struct {
	db      *badgerdb.DB
	seq     *badgerdb.Sequence
	log     *slog.Logger
	metrics metrics.LedgerMetrics
	now     func() time.Time
}

// Open opens or creates the ledger.
func Open(cfg Config) (*Ledger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("ledger path is required")
	}

	log := logger.Component("ledger")

	opts := badgerdb.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(&badgerLogger{log: log}).
		WithNumVersionsToKeep(1)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	seq, err := db.GetSequence([]byte(keySequence), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to lease ledger sequence: %w", err)
	}

	return &Ledger{db: db, seq: seq, log: log, metrics: cfg.Metrics, now: time.Now}, nil
}

// RecordAppend records that [start, start+length) was appended at location.
func (l *Ledger) RecordAppend(ctx context.Context, location string, start, length uint64) error {
	return l.record(ctx, "append", &Entry{Kind: KindAppend, Location: location, Start: start, Length: length})
}

// RecordConsume records that [start, start+length) was handed out from
// location.
func (l *Ledger) RecordConsume(ctx context.Context, location string, start, length uint64) error {
	return l.record(ctx, "consume", &Entry{Kind: KindConsume, Location: location, Start: start, Length: length})
}

// Reset drops every entry and records a reset marker. Called when the pool
// is wiped and stream offsets restart from zero.
func (l *Ledger) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	err := l.db.DropPrefix([]byte(prefixEntry))
	if err == nil {
		err = l.record(ctx, "reset", &Entry{Kind: KindReset})
	}
	l.observe("drop", start, err)
	if err != nil {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}
	l.log.Info("Ledger reset")
	return nil
}

func (l *Ledger) record(ctx context.Context, op string, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	err := l.put(e)
	l.observe(op, start, err)
	return err
}

func (l *Ledger) put(e *Entry) error {
	seq, err := l.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate ledger sequence: %w", err)
	}
	e.Seq = seq
	e.Time = l.now().UTC()

	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	return l.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyEntry(seq), data); err != nil {
			return fmt.Errorf("failed to store ledger entry: %w", err)
		}
		return nil
	})
}

// SetPoolID records the ID of the pool the trail belongs to.
func (l *Ledger) SetPoolID(id string) error {
	return l.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyPoolID), []byte(id))
	})
}

// PoolID returns the recorded pool ID, or "" if none was set.
func (l *Ledger) PoolID() (string, error) {
	var id string
	err := l.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyPoolID))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	return id, err
}

// Entries calls fn for every entry in sequence order. Returning an error
// from fn stops the scan and returns that error.
func (l *Ledger) Entries(ctx context.Context, fn func(*Entry) error) error {
	start := time.Now()
	err := l.db.View(func(txn *badgerdb.Txn) error {
		prefix := []byte(prefixEntry)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e *Entry
			if err := it.Item().Value(func(val []byte) error {
				var derr error
				e, derr = decodeEntry(val)
				return derr
			}); err != nil {
				return err
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
	l.observe("scan", start, err)
	return err
}

// Healthcheck verifies the database can serve a read transaction.
func (l *Ledger) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.db.View(func(*badgerdb.Txn) error { return nil }); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

// Close releases the sequence lease and closes the database.
func (l *Ledger) Close() error {
	var errs []error
	if err := l.seq.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := l.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (l *Ledger) observe(op string, start time.Time, err error) {
	if l.metrics != nil {
		l.metrics.ObserveOperation(op, time.Since(start), err)
	}
}

// badgerLogger routes BadgerDB's internal logging through the structured
// logger. Badger is chatty at info level, so info becomes debug.
type badgerLogger struct {
	log *slog.Logger
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.log.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.log.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.log.Debug(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.log.Log(context.Background(), logger.SlogLevelTrace, fmt.Sprintf(format, args...))
}
