// Package service exposes the aggregator over HTTP.
//
// The service holds encrypted records and computes encrypted totals; it
// never decrypts. In the default client key mode it has no secret key at
// all.
package service

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/fitcipher/fitcipher/aggregator"
	"github.com/fitcipher/fitcipher/keys"
	"github.com/fitcipher/fitcipher/scheme"
)

// Service wires the scheme context, the record log, the aggregator and the
// HTTP server from a Config.
type Service struct {
	*Server

	Context    *scheme.Context
	Aggregator *aggregator.Aggregator

	closers []io.Closer
}

// NewService builds a Service. It does not start listening.
func NewService(ctx context.Context, cfg *Config, logger logrus.FieldLogger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	params, err := scheme.NewContext(cfg.Scheme)
	if err != nil {
		return nil, fmt.Errorf("scheme: %w", err)
	}
	logger.WithField("params", params.String()).WithField("fingerprint", params.Fingerprint().String()).Info("scheme context ready")

	svc := &Service{Context: params}

	var log aggregator.RecordLog
	switch cfg.Storage.Driver {
	case StoragePostgres:
		pg, err := aggregator.NewPostgresLog(&cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		svc.closers = append(svc.closers, pg)
		log = pg
	default:
		logger.Warn("using in-memory record log, records are lost on restart")
		log = aggregator.NewMemoryLog()
	}

	opts := []aggregator.Option{aggregator.WithLogger(logger.WithField("component", "aggregator"))}
	if cfg.MaxRecords > 0 {
		opts = append(opts, aggregator.WithMaxRecords(cfg.MaxRecords))
	}

	agg, err := aggregator.New(params, log, opts...)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.Aggregator = agg

	restored, err := agg.Restore(ctx)
	if err != nil {
		svc.Close()
		return nil, err
	}
	if restored {
		logger.Info("restored bound public key from storage")
	}

	var ka *keys.KeyAuthority
	if cfg.Keys.Mode == KeyModeServer {
		if ka, err = serverKeys(params, &cfg.Keys, logger); err != nil {
			svc.Close()
			return nil, err
		}
		if err = agg.Bind(ctx, ka.PublicKey()); err != nil {
			svc.Close()
			return nil, fmt.Errorf("binding server key: %w", err)
		}
		if cfg.Keys.ExportSecretKey {
			logger.Warn("keys.export_secret_key is set: the secret key is served to any caller of GET /api/metrics/keys")
		}
	}

	svc.Server = NewServer(&HTTPServerConfig{
		ListenAddr:               cfg.ListenAddr,
		Log:                      logger,
		AllowedOrigins:           cfg.CORS.AllowedOrigins,
		DrainDuration:            cfg.DrainDuration,
		GracefulShutdownDuration: cfg.GracefulShutdownDuration,
		ReadTimeout:              cfg.ReadTimeout,
		WriteTimeout:             cfg.WriteTimeout,
	}, NewAPI(agg, ka, cfg.Keys, logger))

	return svc, nil
}

func serverKeys(ctx *scheme.Context, cfg *KeysConfig, logger logrus.FieldLogger) (*keys.KeyAuthority, error) {
	if cfg.KeyringPath == "" {
		logger.Warn("no keys.keyring_path, generating an ephemeral key pair")
		return keys.NewKeyAuthority(ctx), nil
	}

	passphrase, err := cfg.Passphrase()
	if err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}

	ka, created, err := keys.LoadOrCreateKeyring(cfg.KeyringPath, passphrase, ctx)
	if err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"path":    cfg.KeyringPath,
		"created": created,
	}).Info("server key pair loaded")

	return ka, nil
}

// Close releases the storage.
func (s *Service) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
