package service

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/fitcipher/fitcipher/aggregator"
	"github.com/fitcipher/fitcipher/codec"
	"github.com/fitcipher/fitcipher/keys"
)

// maxBodySize bounds request bodies. A LogN=13 ciphertext is about 350KB
// once base64 encoded.
const maxBodySize = 8 << 20

// API serves the metrics endpoints over an Aggregator.
type API struct {
	agg    *aggregator.Aggregator
	ka     *keys.KeyAuthority
	mode   string
	export bool
	logger logrus.FieldLogger
}

// NewAPI returns the metrics API. ka is the server key pair in server mode
// and nil in client mode.
func NewAPI(agg *aggregator.Aggregator, ka *keys.KeyAuthority, cfg KeysConfig, logger logrus.FieldLogger) *API {
	return &API{
		agg:    agg,
		ka:     ka,
		mode:   cfg.Mode,
		export: cfg.ExportSecretKey && ka != nil,
		logger: logger,
	}
}

// RegisterRoutes registers the /api/metrics routes.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/metrics", api.handleGetMetrics)
	r.Post("/api/metrics", api.handleSubmitMetrics)
	r.Get("/api/metrics/keys", api.handleGetKeys)
	r.Put("/api/metrics/keys", api.handleRegisterKey)
	r.Get("/api/metrics/params", api.handleGetParams)
}

func (api *API) handleGetKeys(w http.ResponseWriter, r *http.Request) {
	var res KeysResponse

	if pk := api.agg.PublicKey(); pk != nil {
		s, err := codec.SerializePublicKey(pk)
		if err != nil {
			api.writeError(w, r, err)
			return
		}
		res.PublicKey = s
	}

	if api.export {
		s, err := codec.SerializeSecretKey(api.ka.SecretKey())
		if err != nil {
			api.writeError(w, r, err)
			return
		}
		res.SecretKey = s
		api.logger.WithField("remote", r.RemoteAddr).Warn("secret key exported")
	}

	writeJSON(w, http.StatusOK, res)
}

func (api *API) handleRegisterKey(w http.ResponseWriter, r *http.Request) {
	var req RegisterKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	pk, err := codec.DeserializePublicKey(req.PublicKey, api.agg.Context())
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	if err = api.agg.Bind(r.Context(), pk); err != nil {
		api.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, KeysResponse{PublicKey: req.PublicKey})
}

func (api *API) handleSubmitMetrics(w http.ResponseWriter, r *http.Request) {
	var item RunItem
	if err := decodeJSON(w, r, &item); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	rec, err := api.agg.Submit(r.Context(), aggregator.EncryptedMetricRecord{
		Distance: item.Distance,
		Time:     item.Time,
	})
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SubmitResponse{ID: rec.ID.String()})
}

func (api *API) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	res, err := api.agg.Aggregate(r.Context())
	if err != nil {
		api.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SummaryItem{
		TotalRuns:     res.TotalRuns,
		TotalDistance: res.TotalDistance,
		TotalHours:    res.TotalHours,
	})
}

func (api *API) handleGetParams(w http.ResponseWriter, r *http.Request) {
	ctx := api.agg.Context()
	writeJSON(w, http.StatusOK, ParamsResponse{
		Parameters:   ctx.Literal(),
		Fingerprint:  ctx.Fingerprint().String(),
		FoldCapacity: ctx.FoldCapacity(),
		MaxRecords:   api.agg.MaxRecords(),
		KeyMode:      api.mode,
	})
}

func (api *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		api.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, aggregator.ErrEmptyRecord),
		errors.Is(err, codec.ErrMalformedTransport),
		errors.Is(err, codec.ErrContextMismatch):
		return http.StatusBadRequest
	case errors.Is(err, aggregator.ErrAlreadyBound),
		errors.Is(err, aggregator.ErrUnbound):
		return http.StatusConflict
	case errors.Is(err, aggregator.ErrLogFull):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
