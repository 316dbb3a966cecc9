package service

import "github.com/fitcipher/fitcipher/scheme"

// Field names match the JSON of existing clients.

// KeysResponse is returned by GET /api/metrics/keys. SecretKey is empty
// unless the server is configured to export it.
type KeysResponse struct {
	PublicKey string
	SecretKey string
}

// RegisterKeyRequest is the body of PUT /api/metrics/keys.
type RegisterKeyRequest struct {
	PublicKey string
}

// RunItem is the body of POST /api/metrics: transport strings of the
// encrypted distance and time.
type RunItem struct {
	Distance string
	Time     string
}

// SubmitResponse is returned by POST /api/metrics.
type SubmitResponse struct {
	ID string
}

// SummaryItem is returned by GET /api/metrics: transport strings of the
// encrypted totals.
type SummaryItem struct {
	TotalRuns     string
	TotalDistance string
	TotalHours    string
}

// ParamsResponse is returned by GET /api/metrics/params.
type ParamsResponse struct {
	Parameters   scheme.ParametersLiteral
	Fingerprint  string
	FoldCapacity uint64
	MaxRecords   int
	KeyMode      string
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string
}
