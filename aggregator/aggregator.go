// Package aggregator stores encrypted metric records and computes encrypted
// totals over them without any secret key.
//
// The Aggregator is bound to exactly one public key. Totals are computed on
// demand from a snapshot of the record log: each column is folded starting
// from a fresh encryption of zero, and the run count is a fresh encryption
// of the snapshot length.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fitcipher/fitcipher/codec"
	"github.com/fitcipher/fitcipher/fhe"
	"github.com/fitcipher/fitcipher/scheme"
)

var (
	// ErrUnbound is returned by Aggregate before a public key is bound.
	ErrUnbound = errors.New("no public key bound")
	// ErrAlreadyBound is returned by Bind when another key is already bound.
	ErrAlreadyBound = errors.New("a different public key is already bound")
	// ErrEmptyRecord is returned by Submit when a field is empty.
	ErrEmptyRecord = errors.New("record has an empty field")
	// ErrLogFull is returned by Submit once the log holds MaxRecords records.
	ErrLogFull = errors.New("record log is full")
)

// AggregateResult holds the transport strings of the three encrypted totals.
type AggregateResult struct {
	TotalRuns     string
	TotalDistance string
	TotalHours    string
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithMaxRecords caps the number of records the log accepts. It must be in
// [1, t-2] where t is the plaintext modulus.
func WithMaxRecords(n int) Option {
	return func(a *Aggregator) {
		a.maxRecords = n
	}
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	ctx        *scheme.Context
	log        RecordLog
	evl        *fhe.Evaluator
	logger     logrus.FieldLogger
	maxRecords int

	mu  sync.RWMutex
	pk  *scheme.PublicKey
	enc *fhe.Encryptor

	// serialises the capacity check with the append
	submitMu sync.Mutex
}

// New returns an unbound Aggregator storing its records in log.
func New(ctx *scheme.Context, log RecordLog, opts ...Option) (*Aggregator, error) {
	if log == nil {
		return nil, fmt.Errorf("cannot New: nil record log")
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	limit := maxRecordsFor(ctx)

	a := &Aggregator{
		ctx:        ctx,
		log:        log,
		evl:        fhe.NewEvaluator(ctx),
		logger:     discard,
		maxRecords: limit,
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.maxRecords < 1 || a.maxRecords > limit {
		return nil, fmt.Errorf("cannot New: max records must be in [1, %d] but is %d", limit, a.maxRecords)
	}

	return a, nil
}

// maxRecordsFor keeps the run count and the tally slot below t.
func maxRecordsFor(ctx *scheme.Context) int {
	limit := ctx.PlaintextModulus() - 2
	if limit > uint64(int(^uint(0)>>1)) {
		return int(^uint(0) >> 1)
	}
	return int(limit)
}

// Context returns the parameter set of the aggregator.
func (a *Aggregator) Context() *scheme.Context {
	return a.ctx
}

// MaxRecords returns the capacity of the log.
func (a *Aggregator) MaxRecords() int {
	return a.maxRecords
}

// PublicKey returns the bound public key, or nil.
func (a *Aggregator) PublicKey() *scheme.PublicKey {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pk
}

// Bind binds pk. Binding the same key again is a no-op; binding another key
// returns ErrAlreadyBound. When the record log implements BindingStore the
// key is persisted.
func (a *Aggregator) Bind(ctx context.Context, pk *scheme.PublicKey) error {
	if pk == nil || pk.PublicKey == nil {
		return fmt.Errorf("cannot Bind: nil public key")
	}
	if err := a.ctx.Check(pk.Fingerprint); err != nil {
		return fmt.Errorf("cannot Bind: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pk != nil {
		if a.pk.Equal(pk) {
			return nil
		}
		return fmt.Errorf("cannot Bind: %w", ErrAlreadyBound)
	}

	enc, err := fhe.NewEncryptor(a.ctx, pk)
	if err != nil {
		return fmt.Errorf("cannot Bind: %w", err)
	}

	if store, ok := a.log.(BindingStore); ok {
		s, err := codec.SerializePublicKey(pk)
		if err != nil {
			return fmt.Errorf("cannot Bind: %w", err)
		}
		if err = store.SaveBinding(ctx, s); err != nil {
			return fmt.Errorf("cannot Bind: %w", err)
		}
	}

	a.pk, a.enc = pk, enc
	a.logger.WithField("context", a.ctx.Fingerprint().String()).Info("public key bound")
	return nil
}

// Restore binds the public key persisted by the record log, if the log
// implements BindingStore and holds one. It reports whether a key was
// restored.
func (a *Aggregator) Restore(ctx context.Context) (bool, error) {
	store, ok := a.log.(BindingStore)
	if !ok {
		return false, nil
	}

	s, ok, err := store.LoadBinding(ctx)
	if err != nil || !ok {
		return false, err
	}

	pk, err := codec.DeserializePublicKey(s, a.ctx)
	if err != nil {
		return false, fmt.Errorf("cannot Restore: %w", err)
	}

	if err = a.Bind(ctx, pk); err != nil {
		return false, fmt.Errorf("cannot Restore: %w", err)
	}
	return true, nil
}

// Submit appends rec to the log and returns it with its assigned ID and
// submission time. Only the structure is validated: the ciphertexts are
// parsed when they are aggregated.
func (a *Aggregator) Submit(ctx context.Context, rec EncryptedMetricRecord) (EncryptedMetricRecord, error) {
	if strings.TrimSpace(rec.Distance) == "" || strings.TrimSpace(rec.Time) == "" {
		return EncryptedMetricRecord{}, fmt.Errorf("cannot Submit: %w", ErrEmptyRecord)
	}

	a.submitMu.Lock()
	defer a.submitMu.Unlock()

	n, err := a.log.Len(ctx)
	if err != nil {
		return EncryptedMetricRecord{}, fmt.Errorf("cannot Submit: %w", err)
	}
	if n >= a.maxRecords {
		return EncryptedMetricRecord{}, fmt.Errorf("cannot Submit: %w", ErrLogFull)
	}

	rec.ID = uuid.New()
	rec.SubmittedAt = time.Now().UTC()

	if err = a.log.Append(ctx, rec); err != nil {
		return EncryptedMetricRecord{}, fmt.Errorf("cannot Submit: %w", err)
	}

	a.logger.WithFields(logrus.Fields{
		"id":      rec.ID,
		"records": n + 1,
	}).Debug("record submitted")

	return rec, nil
}

// Aggregate computes the encrypted totals over a snapshot of the log.
// Records appended during the computation are not included. A record that
// does not parse under the aggregator's context fails the whole request and
// leaves the log untouched.
func (a *Aggregator) Aggregate(ctx context.Context) (AggregateResult, error) {
	a.mu.RLock()
	enc := a.enc
	a.mu.RUnlock()

	if enc == nil {
		return AggregateResult{}, fmt.Errorf("cannot Aggregate: %w", ErrUnbound)
	}

	snapshot, err := a.log.Scan(ctx)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("cannot Aggregate: %w", err)
	}

	start := time.Now()
	logger := a.logger.WithField("records", len(snapshot))

	if capacity := a.ctx.FoldCapacity(); uint64(len(snapshot)) >= capacity {
		logger.WithField("capacity", capacity).Warn("record count exceeds fold capacity, totals will not decrypt")
	}

	var res AggregateResult

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		res.TotalDistance, err = a.fold(gctx, enc, snapshot, func(rec EncryptedMetricRecord) string { return rec.Distance })
		if err != nil {
			return fmt.Errorf("distance: %w", err)
		}
		return nil
	})

	g.Go(func() (err error) {
		res.TotalHours, err = a.fold(gctx, enc, snapshot, func(rec EncryptedMetricRecord) string { return rec.Time })
		if err != nil {
			return fmt.Errorf("time: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ct, err := fhe.EncryptInteger(enc, len(snapshot))
		if err != nil {
			return fmt.Errorf("runs: %w", err)
		}
		if res.TotalRuns, err = codec.SerializeCiphertext(ct); err != nil {
			return fmt.Errorf("runs: %w", err)
		}
		return nil
	})

	if err = g.Wait(); err != nil {
		logger.WithError(err).Warn("aggregation failed")
		return AggregateResult{}, fmt.Errorf("cannot Aggregate: %w", err)
	}

	logger.WithField("duration", time.Since(start)).Debug("aggregation done")

	return res, nil
}

func (a *Aggregator) fold(ctx context.Context, enc *fhe.Encryptor, records []EncryptedMetricRecord, field func(EncryptedMetricRecord) string) (string, error) {

	acc, err := enc.Encrypt(codec.Zero)
	if err != nil {
		return "", err
	}

	for _, rec := range records {
		if err = ctx.Err(); err != nil {
			return "", err
		}

		ct, err := codec.DeserializeCiphertext(field(rec), a.ctx)
		if err != nil {
			return "", fmt.Errorf("record %s: %w", rec.ID, err)
		}

		if err = a.evl.AddInPlace(acc, ct); err != nil {
			return "", fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}

	return codec.SerializeCiphertext(acc)
}
