// Package app wires the shared pieces of the watcher and API processes.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"subjectfix/internal/archive"
	"subjectfix/internal/config"
	"subjectfix/internal/dispatch"
	"subjectfix/internal/imapstore"
	"subjectfix/internal/journal"
	"subjectfix/internal/mailstore"
	"subjectfix/internal/metrics"
	"subjectfix/internal/redisstore"
	"subjectfix/internal/rewriter"
	"subjectfix/internal/subject"
)

type App struct {
	Config     *config.Config
	Log        *zap.Logger
	Store      *redisstore.Store
	Journal    *journal.Journal
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Processor  *rewriter.Processor
	Dispatcher *dispatch.Dispatcher
}

// New connects to Redis, and to S3 when originals are kept there, and builds the
// rewrite pipeline on top.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := redisstore.New(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	var blobs journal.BlobStore
	if cfg.JournalBlobs == "s3" {
		s3, err := archive.New(archive.Options{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
			Secure:    cfg.S3Secure,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		if err := s3.Check(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		blobs = s3
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	matcher, err := store.LoadMatcher(ctx, cfg.SubjectPatterns)
	if err != nil {
		logger.Warn("stored patterns unusable, using configured ones", zap.Error(err))
		if matcher, err = subject.NewMatcher(cfg.SubjectPatterns); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	j := journal.New(store, blobs, logger.Named("journal"))
	p := rewriter.New(matcher,
		rewriter.WithJournal(j),
		rewriter.WithMetrics(m),
		rewriter.WithLogger(logger.Named("rewriter")),
	)

	d := dispatch.New(p, logger.Named("dispatch"))
	d.Delay = cfg.NewMailDelay()
	d.Metrics = m
	d.Stats = store

	return &App{
		Config:     cfg,
		Log:        logger,
		Store:      store,
		Journal:    j,
		Registry:   reg,
		Metrics:    m,
		Processor:  p,
		Dispatcher: d,
	}, nil
}

func (a *App) IMAPOptions() imapstore.Options {
	return imapstore.Options{
		Host:     a.Config.IMAPHost,
		Port:     a.Config.IMAPPort,
		User:     a.Config.IMAPUser,
		Pass:     a.Config.IMAPPass,
		TLS:      a.Config.IMAPTLS,
		Trash:    a.Config.IMAPTrash,
		PageSize: a.Config.PageSize,
		Timeout:  a.Config.IMAPTimeout(),
	}
}

// DialIMAP opens one authenticated IMAP session.
func (a *App) DialIMAP(ctx context.Context) (*imapstore.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return imapstore.Dial(a.IMAPOptions(), a.Log.Named("imap"))
}

// DialSession is DialIMAP as a mailstore.Dialer.
func (a *App) DialSession(ctx context.Context) (mailstore.Session, error) {
	st, err := a.DialIMAP(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// RefreshPatterns reloads the subject patterns from Redis into the processor.
func (a *App) RefreshPatterns(ctx context.Context) error {
	matcher, err := a.Store.LoadMatcher(ctx, a.Config.SubjectPatterns)
	if err != nil {
		return err
	}
	a.Processor.SetMatcher(matcher)
	return nil
}

func (a *App) Close() error {
	return a.Store.Close()
}
