package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/warpdrive/accesslog/pkg/blobstore"
	"github.com/warpdrive/accesslog/pkg/config"
	"github.com/warpdrive/accesslog/pkg/ingest"
	"github.com/warpdrive/accesslog/pkg/metrics"
	"github.com/warpdrive/accesslog/pkg/normalize"
	"github.com/warpdrive/accesslog/pkg/report"
	"github.com/warpdrive/accesslog/pkg/snapshot"
	"github.com/warpdrive/accesslog/pkg/source"
)

var writeTextfile = metrics.WriteTextfile

// stack holds everything a command needs, built from config.
type stack struct {
	store    blobstore.Store
	src      *source.Rclone
	reporter report.Emitter
}

// openStack opens the blob store and report sink. The job source is only
// opened when withSource is set, so local runs never touch the remote.
func openStack(ctx context.Context, cfg *config.Config, withSource bool) (*stack, error) {
	store, err := blobstore.Open(blobstore.Options{
		Type:             cfg.Store.Type,
		Path:             cfg.Store.Path,
		SyncWrites:       cfg.Store.Sync(),
		ValueLogFileSize: cfg.Store.ValueLogFileSize,
	})
	if err != nil {
		return nil, err
	}
	st := &stack{store: store}

	st.reporter, err = report.New(cfg.Report.Sink, cfg.Report.FilePath)
	if err != nil {
		st.Close()
		return nil, err
	}

	if withSource {
		st.src, err = source.NewRclone(ctx, source.RcloneOptions{
			Name:   cfg.Source.Name,
			Type:   cfg.Source.Type,
			Root:   cfg.Source.Root,
			Params: cfg.Source.Config,
			Prefix: cfg.Source.Prefix,
			Suffix: cfg.Source.Suffix,
		})
		if err != nil {
			st.Close()
			return nil, err
		}
	}
	return st, nil
}

func (s *stack) Close() error {
	var errs []error
	if s.src != nil {
		errs = append(errs, s.src.Close())
	}
	if s.reporter != nil {
		errs = append(errs, s.reporter.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

func newNormalizer(cfg *config.Config) (*normalize.Normalizer, error) {
	fallback := cfg.Normalize.Fallback()
	return normalize.New(normalize.Config{
		SizeFallback: &fallback,
		SiteFilter:   normalize.SiteFilter(cfg.Normalize.SiteFilter),
		Rules:        cfg.Normalize.RewriteRules,
	})
}

func (s *stack) engine(cfg *config.Config) (*ingest.Engine, error) {
	n, err := newNormalizer(cfg)
	if err != nil {
		return nil, err
	}
	opts := ingest.Options{
		Store:      s.store,
		Normalizer: n,
		Keys:       ingest.Keys{Table: cfg.Store.Keys.Table, Ledger: cfg.Store.Keys.Ledger},
		Policy:     ingest.DuplicatePolicy(cfg.Ingest.DuplicatePolicy),
		Reporter:   s.reporter,
	}
	if s.src != nil {
		opts.Source = s.src
	}
	return ingest.New(opts)
}

func (s *stack) snapshotCache(ctx context.Context, cfg *config.Config, firstRead bool) (*snapshot.Cache, func() error, error) {
	opts := snapshot.Options{
		Store:    s.store,
		Key:      cfg.Store.Keys.Snapshot,
		Path:     cfg.PercentSource.Path,
		Reporter: s.reporter,
	}
	closeSrc := func() error { return nil }
	if firstRead {
		if cfg.PercentSource.Type == "" {
			return nil, nil, fmt.Errorf("snapshot: --first-read needs a percent_source section")
		}
		src, err := source.NewRclone(ctx, source.RcloneOptions{
			Name:   cfg.PercentSource.Name,
			Type:   cfg.PercentSource.Type,
			Root:   cfg.PercentSource.Root,
			Params: cfg.PercentSource.Config,
		})
		if err != nil {
			return nil, nil, err
		}
		opts.Source = src
		closeSrc = src.Close
	}
	c, err := snapshot.NewCache(opts)
	if err != nil {
		closeSrc()
		return nil, nil, err
	}
	return c, closeSrc, nil
}
