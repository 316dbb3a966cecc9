package fhe

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fitcipher/fitcipher/codec"
	"github.com/fitcipher/fitcipher/keys"
	"github.com/fitcipher/fitcipher/scheme"
)

var flagParamString = flag.String("params", "", "specify the test cryptographic parameters as a JSON string. Overrides the default test parameters.")

func name(op string, tc *testContext) string {
	return fmt.Sprintf("%s/%s", op, tc.ctx)
}

type testContext struct {
	ctx *scheme.Context
	ka  *keys.KeyAuthority
	enc *Encryptor
	dec *Decryptor
	evl *Evaluator
}

func newTestContext(t *testing.T, lit scheme.ParametersLiteral) *testContext {
	ctx, err := scheme.NewContext(lit)
	require.NoError(t, err)

	ka := keys.NewKeyAuthority(ctx)

	enc, err := NewEncryptor(ctx, ka.PublicKey())
	require.NoError(t, err)

	dec, err := NewDecryptor(ctx, ka.SecretKey())
	require.NoError(t, err)

	return &testContext{
		ctx: ctx,
		ka:  ka,
		enc: enc,
		dec: dec,
		evl: NewEvaluator(ctx),
	}
}

func TestFHE(t *testing.T) {

	paramsLiterals := make([]scheme.ParametersLiteral, 0, len(scheme.TestPlaintextModuli))

	if *flagParamString != "" {
		var lit scheme.ParametersLiteral
		if err := json.Unmarshal([]byte(*flagParamString), &lit); err != nil {
			t.Fatal(err)
		}
		paramsLiterals = append(paramsLiterals, lit)
	} else {
		for _, tmod := range scheme.TestPlaintextModuli {
			lit := scheme.TestParametersInsecure
			lit.PlaintextModulus = tmod
			paramsLiterals = append(paramsLiterals, lit)
		}
	}

	for _, lit := range paramsLiterals {

		tc := newTestContext(t, lit)

		for _, testSet := range []func(tc *testContext, t *testing.T){
			testEncryptor,
			testDecryptor,
			testEvaluator,
			testFoldCapacity,
		} {
			testSet(tc, t)
			runtime.GC()
		}
	}
}

func testEncryptor(tc *testContext, t *testing.T) {

	tmod := tc.ctx.PlaintextModulus()

	t.Run(name("Encryptor/RoundTrip", tc), func(t *testing.T) {
		for _, n := range []uint64{0, 1, 15, 16, 255, tmod / 2, tmod - 1} {
			ct, err := EncryptInteger(tc.enc, n)
			require.NoError(t, err)
			have, err := tc.dec.DecryptInteger(ct)
			require.NoError(t, err)
			require.Equal(t, n, have)
		}
	})

	t.Run(name("Encryptor/Randomized", tc), func(t *testing.T) {
		ct0, err := EncryptInteger(tc.enc, 42)
		require.NoError(t, err)
		ct1, err := EncryptInteger(tc.enc, 42)
		require.NoError(t, err)

		b0, err := ct0.MarshalBinary()
		require.NoError(t, err)
		b1, err := ct1.MarshalBinary()
		require.NoError(t, err)
		require.NotEqual(t, b0, b1)

		p0, err := tc.dec.Decrypt(ct0)
		require.NoError(t, err)
		p1, err := tc.dec.Decrypt(ct1)
		require.NoError(t, err)
		require.Equal(t, codec.Plaintext("2A"), p0)
		require.Equal(t, p0, p1)
	})

	t.Run(name("Encryptor/Overflow", tc), func(t *testing.T) {
		_, err := EncryptInteger(tc.enc, tmod)
		require.ErrorIs(t, err, codec.ErrEncodingOverflow)
	})

	t.Run(name("Encryptor/Negative", tc), func(t *testing.T) {
		_, err := EncryptInteger(tc.enc, int64(-1))
		require.ErrorIs(t, err, codec.ErrNegativeValue)
	})

	t.Run(name("Encryptor/Malformed", tc), func(t *testing.T) {
		_, err := tc.enc.Encrypt(codec.Plaintext("0x1"))
		require.ErrorIs(t, err, codec.ErrMalformedPlaintext)
	})

	t.Run(name("Encryptor/ForeignKey", tc), func(t *testing.T) {
		other := newForeignContext(t, tc)
		_, err := NewEncryptor(tc.ctx, keys.NewKeyAuthority(other).PublicKey())
		require.ErrorIs(t, err, scheme.ErrContextMismatch)
	})
}

func testDecryptor(tc *testContext, t *testing.T) {

	t.Run(name("Decryptor/WrongKey", tc), func(t *testing.T) {
		dec, err := NewDecryptor(tc.ctx, keys.NewKeyAuthority(tc.ctx).SecretKey())
		require.NoError(t, err)

		for _, n := range []uint64{0, 7, 100} {
			ct, err := EncryptInteger(tc.enc, n)
			require.NoError(t, err)
			_, err = dec.Decrypt(ct)
			require.ErrorIs(t, err, ErrDecryptionFailed)
		}
	})

	t.Run(name("Decryptor/ForeignContext", tc), func(t *testing.T) {
		ct, err := EncryptInteger(tc.enc, 3)
		require.NoError(t, err)

		other := newForeignContext(t, tc)
		dec, err := NewDecryptor(other, keys.NewKeyAuthority(other).SecretKey())
		require.NoError(t, err)

		_, err = dec.Decrypt(ct)
		require.ErrorIs(t, err, ErrSchemeMismatch)
		require.ErrorIs(t, err, scheme.ErrContextMismatch)
	})

	t.Run(name("Decryptor/Folds", tc), func(t *testing.T) {
		ct, err := EncryptInteger(tc.enc, 9)
		require.NoError(t, err)
		n, err := tc.dec.Folds(ct)
		require.NoError(t, err)
		require.Equal(t, uint64(1), n)
	})

	t.Run(name("Decryptor/FoldCountMismatch", tc), func(t *testing.T) {
		ct, err := EncryptInteger(tc.enc, 9)
		require.NoError(t, err)

		ct.Folds = 2
		_, err = tc.dec.Decrypt(ct)
		require.ErrorIs(t, err, ErrDecryptionFailed)

		ct.Folds = tc.ctx.FoldCapacity() + 1
		_, err = tc.dec.Decrypt(ct)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func testEvaluator(tc *testContext, t *testing.T) {

	tmod := tc.ctx.PlaintextModulus()

	t.Run(name("Evaluator/Add", tc), func(t *testing.T) {
		for _, pair := range [][2]uint64{{0, 0}, {5, 10}, {15, 1}, {tmod - 1, tmod - 1}} {
			a, err := EncryptInteger(tc.enc, pair[0])
			require.NoError(t, err)
			b, err := EncryptInteger(tc.enc, pair[1])
			require.NoError(t, err)

			sum, err := tc.evl.Add(a, b)
			require.NoError(t, err)

			have, err := tc.dec.DecryptInteger(sum)
			require.NoError(t, err)
			require.Equal(t, pair[0]+pair[1], have)

			// operands are left untouched
			have, err = tc.dec.DecryptInteger(a)
			require.NoError(t, err)
			require.Equal(t, pair[0], have)
		}
	})

	t.Run(name("Evaluator/AddInPlace", tc), func(t *testing.T) {
		acc, err := tc.enc.Encrypt(codec.Zero)
		require.NoError(t, err)
		for _, n := range []uint64{3, 4, 5} {
			ct, err := EncryptInteger(tc.enc, n)
			require.NoError(t, err)
			require.NoError(t, tc.evl.AddInPlace(acc, ct))
		}
		have, err := tc.dec.DecryptInteger(acc)
		require.NoError(t, err)
		require.Equal(t, uint64(12), have)
	})

	t.Run(name("Evaluator/FoldCount", tc), func(t *testing.T) {
		a, err := EncryptInteger(tc.enc, 1)
		require.NoError(t, err)
		require.Equal(t, uint64(1), a.Folds)

		b, err := tc.evl.Add(a, a)
		require.NoError(t, err)
		require.Equal(t, uint64(2), b.Folds)
		require.Equal(t, uint64(1), a.Folds)

		require.NoError(t, tc.evl.AddInPlace(b, a))
		require.Equal(t, uint64(3), b.Folds)

		c, err := tc.evl.Fold(b, a, a)
		require.NoError(t, err)
		require.Equal(t, uint64(5), c.Folds)
		require.Equal(t, uint64(3), b.Folds)

		c.Folds = 0
		_, err = tc.evl.Add(c, a)
		require.Error(t, err)
	})

	t.Run(name("Evaluator/Fold/OrderIndependent", tc), func(t *testing.T) {

		n := int(tc.ctx.FoldCapacity()) - 1
		if n > 12 {
			n = 12
		}

		r := rand.New(rand.NewSource(1))

		values := make([]uint64, n)
		cts := make([]*scheme.Ciphertext, n)
		var want uint64
		for i := range values {
			values[i] = r.Uint64() % tmod
			want += values[i]
			ct, err := EncryptInteger(tc.enc, values[i])
			require.NoError(t, err)
			cts[i] = ct
		}

		seed, err := tc.enc.Encrypt(codec.Zero)
		require.NoError(t, err)

		forward, err := tc.evl.Fold(seed, cts...)
		require.NoError(t, err)

		shuffled := append([]*scheme.Ciphertext(nil), cts...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		backward, err := tc.evl.Fold(seed, shuffled...)
		require.NoError(t, err)

		for _, ct := range []*scheme.Ciphertext{forward, backward} {
			have, err := tc.dec.DecryptInteger(ct)
			require.NoError(t, err)
			require.Equal(t, want, have)
		}

		folds, err := tc.dec.Folds(forward)
		require.NoError(t, err)
		require.Equal(t, uint64(n+1), folds)

		// the seed is not modified by Fold
		have, err := tc.dec.DecryptInteger(seed)
		require.NoError(t, err)
		require.Zero(t, have)
	})

	t.Run(name("Evaluator/SchemeMismatch", tc), func(t *testing.T) {
		other := newForeignContext(t, tc)
		enc, err := NewEncryptor(other, keys.NewKeyAuthority(other).PublicKey())
		require.NoError(t, err)

		a, err := EncryptInteger(tc.enc, 1)
		require.NoError(t, err)
		b, err := EncryptInteger(enc, 1)
		require.NoError(t, err)

		_, err = tc.evl.Add(a, b)
		require.ErrorIs(t, err, ErrSchemeMismatch)

		_, err = tc.evl.Fold(a, b)
		require.ErrorIs(t, err, ErrSchemeMismatch)
	})
}

func testFoldCapacity(tc *testContext, t *testing.T) {

	capacity := tc.ctx.FoldCapacity()
	if capacity > 64 {
		// too many additions for a unit test
		return
	}

	t.Run(name("Evaluator/FoldCapacity", tc), func(t *testing.T) {

		one, err := EncryptInteger(tc.enc, 1)
		require.NoError(t, err)

		acc := one
		for i := uint64(1); i < capacity; i++ {
			if acc, err = tc.evl.Add(acc, one); err != nil {
				t.Fatal(err)
			}
		}

		have, err := tc.dec.DecryptInteger(acc)
		require.NoError(t, err)
		require.Equal(t, capacity, have)

		// one fold past the capacity makes the guard slot wrap
		acc, err = tc.evl.Add(acc, one)
		require.NoError(t, err)

		_, err = tc.dec.Decrypt(acc)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run(name("Evaluator/FoldWrap", tc), func(t *testing.T) {

		tmod := tc.ctx.PlaintextModulus()

		one, err := EncryptInteger(tc.enc, 1)
		require.NoError(t, err)

		// t+1 ones: every slot wraps back to the layout of a fresh encryption of 1
		cts := make([]*scheme.Ciphertext, tmod)
		for i := range cts {
			cts[i] = one
		}

		sum, err := tc.evl.Fold(one, cts...)
		require.NoError(t, err)
		require.Equal(t, tmod+1, sum.Folds)

		_, err = tc.dec.DecryptInteger(sum)
		require.ErrorIs(t, err, ErrDecryptionFailed)

		// the count survives transport
		s, err := codec.SerializeCiphertext(sum)
		require.NoError(t, err)
		back, err := codec.DeserializeCiphertext(s, tc.ctx)
		require.NoError(t, err)
		require.Equal(t, tmod+1, back.Folds)

		_, err = tc.dec.DecryptInteger(back)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func newForeignContext(t *testing.T, tc *testContext) *scheme.Context {
	lit := tc.ctx.Literal()
	lit.LogQ = []int{50}
	other, err := scheme.NewContext(lit)
	require.NoError(t, err)
	return other
}
