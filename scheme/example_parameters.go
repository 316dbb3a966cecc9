package scheme

var (
	// ExampleParametersLogN12LogQP109 is the default parameter set: a ring of
	// degree 4096, logQP=109 (128-bit security) and t=65537, which gives 4096
	// slots and a fold capacity of 4369.
	ExampleParametersLogN12LogQP109 = ParametersLiteral{
		LogN:             12,
		LogQ:             []int{54},
		LogP:             []int{55},
		PlaintextModulus: 0x10001,
	}

	// ExampleParametersLogN13LogQP218 trades speed for a larger modulus
	// chain, for deployments that expect heavier noise growth.
	ExampleParametersLogN13LogQP218 = ParametersLiteral{
		LogN:             13,
		LogQ:             []int{54, 54},
		LogP:             []int{55, 55},
		PlaintextModulus: 0x10001,
	}
)
