package aggregator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fitcipher/fitcipher/codec"
	"github.com/fitcipher/fitcipher/fhe"
	"github.com/fitcipher/fitcipher/keys"
	"github.com/fitcipher/fitcipher/scheme"
)

type testContext struct {
	ctx *scheme.Context
	ka  *keys.KeyAuthority
	enc *fhe.Encryptor
	dec *fhe.Decryptor
}

func newTestContext(t *testing.T, tmod uint64) *testContext {
	ctx := scheme.NewTestContext(tmod)
	ka := keys.NewKeyAuthority(ctx)

	enc, err := fhe.NewEncryptor(ctx, ka.PublicKey())
	require.NoError(t, err)
	dec, err := fhe.NewDecryptor(ctx, ka.SecretKey())
	require.NoError(t, err)

	return &testContext{ctx: ctx, ka: ka, enc: enc, dec: dec}
}

func (tc *testContext) record(t *testing.T, distance, hours uint64) EncryptedMetricRecord {
	d, err := fhe.EncryptInteger(tc.enc, distance)
	require.NoError(t, err)
	h, err := fhe.EncryptInteger(tc.enc, hours)
	require.NoError(t, err)

	ds, err := codec.SerializeCiphertext(d)
	require.NoError(t, err)
	hs, err := codec.SerializeCiphertext(h)
	require.NoError(t, err)

	return EncryptedMetricRecord{Distance: ds, Time: hs}
}

func (tc *testContext) decrypt(t *testing.T, s string) (uint64, error) {
	ct, err := codec.DeserializeCiphertext(s, tc.ctx)
	require.NoError(t, err)
	return tc.dec.DecryptInteger(ct)
}

func (tc *testContext) totals(t *testing.T, res AggregateResult) [3]uint64 {
	var out [3]uint64
	for i, s := range []string{res.TotalRuns, res.TotalDistance, res.TotalHours} {
		n, err := tc.decrypt(t, s)
		require.NoError(t, err)
		out[i] = n
	}
	return out
}

func newBoundAggregator(t *testing.T, tc *testContext, log RecordLog, opts ...Option) *Aggregator {
	agg, err := New(tc.ctx, log, opts...)
	require.NoError(t, err)
	require.NoError(t, agg.Bind(context.Background(), tc.ka.PublicKey()))
	return agg
}

func TestAggregator(t *testing.T) {

	for _, tmod := range scheme.TestPlaintextModuli {

		tc := newTestContext(t, tmod)
		ctx := context.Background()

		t.Run(fmt.Sprintf("Aggregate/%s", tc.ctx), func(t *testing.T) {
			agg := newBoundAggregator(t, tc, NewMemoryLog())

			for _, run := range [][2]uint64{{5, 1}, {10, 2}, {3, 1}} {
				rec, err := agg.Submit(ctx, tc.record(t, run[0], run[1]))
				require.NoError(t, err)
				require.NotEqual(t, uuid.Nil, rec.ID)
				require.False(t, rec.SubmittedAt.IsZero())
			}

			res, err := agg.Aggregate(ctx)
			require.NoError(t, err)
			require.Equal(t, [3]uint64{3, 18, 4}, tc.totals(t, res))

			// the log is not consumed
			res, err = agg.Aggregate(ctx)
			require.NoError(t, err)
			require.Equal(t, [3]uint64{3, 18, 4}, tc.totals(t, res))
		})

		t.Run(fmt.Sprintf("Aggregate/Empty/%s", tc.ctx), func(t *testing.T) {
			agg := newBoundAggregator(t, tc, NewMemoryLog())
			res, err := agg.Aggregate(ctx)
			require.NoError(t, err)
			require.Equal(t, [3]uint64{0, 0, 0}, tc.totals(t, res))
		})

		t.Run(fmt.Sprintf("Aggregate/Unbound/%s", tc.ctx), func(t *testing.T) {
			agg, err := New(tc.ctx, NewMemoryLog())
			require.NoError(t, err)
			require.Nil(t, agg.PublicKey())

			// records can be accepted before a key is bound
			_, err = agg.Submit(ctx, tc.record(t, 1, 1))
			require.NoError(t, err)

			_, err = agg.Aggregate(ctx)
			require.ErrorIs(t, err, ErrUnbound)
		})

		t.Run(fmt.Sprintf("Aggregate/ContextMismatch/%s", tc.ctx), func(t *testing.T) {
			log := NewMemoryLog()
			agg := newBoundAggregator(t, tc, log)

			_, err := agg.Submit(ctx, tc.record(t, 2, 2))
			require.NoError(t, err)

			lit := tc.ctx.Literal()
			lit.LogQ = []int{50}
			other, err := scheme.NewContext(lit)
			require.NoError(t, err)
			enc, err := fhe.NewEncryptor(other, keys.NewKeyAuthority(other).PublicKey())
			require.NoError(t, err)
			ct, err := fhe.EncryptInteger(enc, 7)
			require.NoError(t, err)
			foreign, err := codec.SerializeCiphertext(ct)
			require.NoError(t, err)

			_, err = agg.Submit(ctx, EncryptedMetricRecord{Distance: foreign, Time: foreign})
			require.NoError(t, err)

			_, err = agg.Aggregate(ctx)
			require.ErrorIs(t, err, codec.ErrContextMismatch)

			n, err := log.Len(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, n)
		})

		t.Run(fmt.Sprintf("Aggregate/Malformed/%s", tc.ctx), func(t *testing.T) {
			agg := newBoundAggregator(t, tc, NewMemoryLog())
			_, err := agg.Submit(ctx, EncryptedMetricRecord{Distance: "not a ciphertext", Time: "x"})
			require.NoError(t, err)
			_, err = agg.Aggregate(ctx)
			require.ErrorIs(t, err, codec.ErrMalformedTransport)
		})

		t.Run(fmt.Sprintf("Bind/%s", tc.ctx), func(t *testing.T) {
			agg := newBoundAggregator(t, tc, NewMemoryLog())
			require.True(t, agg.PublicKey().Equal(tc.ka.PublicKey()))

			require.NoError(t, agg.Bind(ctx, tc.ka.PublicKey()))

			err := agg.Bind(ctx, keys.NewKeyAuthority(tc.ctx).PublicKey())
			require.ErrorIs(t, err, ErrAlreadyBound)
			require.True(t, agg.PublicKey().Equal(tc.ka.PublicKey()))

			require.Error(t, agg.Bind(ctx, nil))
		})

		t.Run(fmt.Sprintf("Submit/Empty/%s", tc.ctx), func(t *testing.T) {
			agg := newBoundAggregator(t, tc, NewMemoryLog())
			for _, rec := range []EncryptedMetricRecord{
				{},
				{Distance: "a"},
				{Time: "a"},
				{Distance: " ", Time: "a"},
			} {
				_, err := agg.Submit(ctx, rec)
				require.ErrorIs(t, err, ErrEmptyRecord)
			}
		})

		t.Run(fmt.Sprintf("Submit/LogFull/%s", tc.ctx), func(t *testing.T) {
			agg := newBoundAggregator(t, tc, NewMemoryLog(), WithMaxRecords(2))
			rec := tc.record(t, 1, 1)
			for i := 0; i < 2; i++ {
				_, err := agg.Submit(ctx, rec)
				require.NoError(t, err)
			}
			_, err := agg.Submit(ctx, rec)
			require.ErrorIs(t, err, ErrLogFull)
		})

		t.Run(fmt.Sprintf("Submit/Concurrent/%s", tc.ctx), func(t *testing.T) {
			log := NewMemoryLog()
			agg := newBoundAggregator(t, tc, log)

			rec := tc.record(t, 1, 2)
			workers, perWorker := 4, 3

			var wg sync.WaitGroup
			errs := make(chan error, workers*perWorker)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWorker; i++ {
						_, err := agg.Submit(ctx, rec)
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			records, err := log.Scan(ctx)
			require.NoError(t, err)
			require.Len(t, records, workers*perWorker)

			ids := map[uuid.UUID]bool{}
			for _, r := range records {
				ids[r.ID] = true
			}
			require.Len(t, ids, workers*perWorker)

			res, err := agg.Aggregate(ctx)
			require.NoError(t, err)
			n := uint64(workers * perWorker)
			require.Equal(t, [3]uint64{n, n, 2 * n}, tc.totals(t, res))
		})

		t.Run(fmt.Sprintf("Aggregate/ConcurrentSubmit/%s", tc.ctx), func(t *testing.T) {
			agg := newBoundAggregator(t, tc, NewMemoryLog())

			rec := tc.record(t, 2, 1)
			submitters, perSubmitter, aggregators := 4, 5, 4

			var submitWg, aggWg sync.WaitGroup
			done := make(chan struct{})
			errs := make(chan error, submitters*perSubmitter+aggregators)
			results := make(chan AggregateResult, 1024)

			for w := 0; w < submitters; w++ {
				submitWg.Add(1)
				go func() {
					defer submitWg.Done()
					for i := 0; i < perSubmitter; i++ {
						_, err := agg.Submit(ctx, rec)
						errs <- err
					}
				}()
			}

			for w := 0; w < aggregators; w++ {
				aggWg.Add(1)
				go func() {
					defer aggWg.Done()
					for {
						select {
						case <-done:
							return
						default:
						}
						res, err := agg.Aggregate(ctx)
						if err != nil {
							errs <- err
							return
						}
						select {
						case results <- res:
						default:
						}
					}
				}()
			}

			submitWg.Wait()
			close(done)
			aggWg.Wait()
			close(errs)
			close(results)

			for err := range errs {
				require.NoError(t, err)
			}

			// every snapshot is a prefix of whole records
			for res := range results {
				totals := tc.totals(t, res)
				require.Equal(t, 2*totals[0], totals[1])
				require.Equal(t, totals[0], totals[2])
			}

			res, err := agg.Aggregate(ctx)
			require.NoError(t, err)
			n := uint64(submitters * perSubmitter)
			require.Equal(t, [3]uint64{n, 2 * n, n}, tc.totals(t, res))
		})
	}
}

func TestAggregatorOverCapacity(t *testing.T) {
	tc := newTestContext(t, 0x101)
	ctx := context.Background()

	agg := newBoundAggregator(t, tc, NewMemoryLog())
	require.Equal(t, 0x101-2, agg.MaxRecords())

	rec := tc.record(t, 1, 1)
	for i := 0; i < 20; i++ {
		_, err := agg.Submit(ctx, rec)
		require.NoError(t, err)
	}

	res, err := agg.Aggregate(ctx)
	require.NoError(t, err)

	// the run count is a fresh encryption and stays readable
	n, err := tc.decrypt(t, res.TotalRuns)
	require.NoError(t, err)
	require.Equal(t, uint64(20), n)

	_, err = tc.decrypt(t, res.TotalDistance)
	require.ErrorIs(t, err, fhe.ErrDecryptionFailed)
	_, err = tc.decrypt(t, res.TotalHours)
	require.ErrorIs(t, err, fhe.ErrDecryptionFailed)
}

func TestNewOptions(t *testing.T) {
	ctx := scheme.NewTestContext(0x101)

	_, err := New(ctx, nil)
	require.Error(t, err)

	for _, n := range []int{-1, 0, 0x101 - 1} {
		_, err = New(ctx, NewMemoryLog(), WithMaxRecords(n))
		require.Error(t, err, "max records %d", n)
	}

	agg, err := New(ctx, NewMemoryLog(), WithMaxRecords(10))
	require.NoError(t, err)
	require.Equal(t, 10, agg.MaxRecords())
}

func TestMemoryLog(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(ctx, EncryptedMetricRecord{ID: uuid.New(), Distance: fmt.Sprint(i), Time: "t"}))
	}

	snapshot, err := log.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 3)
	for i, rec := range snapshot {
		require.Equal(t, fmt.Sprint(i), rec.Distance)
	}

	require.NoError(t, log.Append(ctx, EncryptedMetricRecord{Distance: "3", Time: "t"}))
	require.Len(t, snapshot, 3)

	n, err := log.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, log.Append(cancelled, EncryptedMetricRecord{}), context.Canceled)
}
