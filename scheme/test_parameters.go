package scheme

var (
	// TestParametersInsecure are insecure parameters used for the sole purpose of fast testing.
	TestParametersInsecure = ParametersLiteral{
		LogN: 10,
		LogQ: []int{54},
		LogP: []int{55},
	}

	// TestPlaintextModuli are the plaintext moduli paired with TestParametersInsecure.
	// 0x101 has a fold capacity of 17, small enough to be exceeded in a test.
	TestPlaintextModuli = []uint64{0x101, 0x10001}
)

// NewTestContext instantiates TestParametersInsecure with the plaintext modulus t.
// It panics on error and must only be used from tests.
func NewTestContext(t uint64) *Context {
	lit := TestParametersInsecure
	lit.PlaintextModulus = t
	ctx, err := NewContext(lit)
	if err != nil {
		panic(err)
	}
	return ctx
}
