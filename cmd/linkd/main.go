// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command linkd keeps a link to a relay alive and serves requests routed
// to it. With http.listen set it also exposes the JSON-RPC gateway on /rpc
// and Prometheus metrics on /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/link"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, logger)
	err = multierr.Append(err, ignoreSyncError(logger.Sync()))
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, logger *zap.Logger) (err error) {
	codec, err := link.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()

	l, err := link.New(cfg.MasterURI, cfg.Secret, cfg.LinkType, newHandler(logger),
		link.WithNodeID(cfg.NodeID),
		link.WithCodec(codec),
		link.WithLogger(logger),
		link.WithRequestTimeout(cfg.RequestTimeout),
		link.WithRegisterer(reg),
	)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, l.Close()) }()

	var srv *http.Server
	if cfg.HTTP.Listen != "" {
		handler, err := newHTTPHandler(l, reg, logger)
		if err != nil {
			return err
		}
		srv = &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	logger.Info("starting", zap.String("nid", l.NID()), zap.String("link_type", l.LinkType()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervise(ctx, l, cfg.RestartDelay, logger)
	})

	if srv != nil {
		g.Go(func() error {
			logger.Info("serving http", zap.String("addr", cfg.HTTP.Listen))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// supervise reruns the link after every failure. The link does not heal
// itself; reconnecting is the host's job.
func supervise(ctx context.Context, l *link.Link, delay time.Duration, logger *zap.Logger) error {
	for {
		err := l.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("link stopped, restarting", zap.Error(err), zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func newHTTPHandler(requester link.Requester, reg *prometheus.Registry, logger *zap.Logger) (http.Handler, error) {
	gateway, err := link.NewGatewayHandler(requester, logger)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/rpc", gateway)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux, nil
}

// ignoreSyncError drops the EINVAL/ENOTTY Sync returns for terminals.
func ignoreSyncError(err error) error {
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
