// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// pkcelogin serves a login page which authenticates users with an OIDC
// provider using the authorization code flow with PKCE.
//
// Configuration is read from OIDC_* environment variables and an optional
// .env file; run with -h to list them.
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

	"github.com/hashicorp/go-hclog"
	"github.com/pkcelogin/pkcelogin/internal/config"
	"github.com/pkcelogin/pkcelogin/internal/server"
	"github.com/pkcelogin/pkcelogin/oidc"
)

const shutdownTimeout = 5 * time.Second

func main() {
	envFile := flag.String("env-file", config.DefaultEnvFile, "optional env file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		if usage, err := config.Usage(); err == nil {
			fmt.Fprintf(flag.CommandLine.Output(), "\n%s\n", usage)
		}
	}
	flag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	const op = "run"
	c, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "pkcelogin",
		Level: c.Level(),
	})

	pc, err := c.ProviderConfig()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	// discovery happens once, here, and the server doesn't start without it
	p, err := oidc.NewProvider(pc, oidc.WithLogger(logger.Named("oidc")))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer p.Done()

	vc, err := c.VerifierCookie()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	requestOpts, err := c.RequestOptions()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	srv, err := server.New(p, vc,
		server.WithProviderName(c.ProviderName),
		server.WithRequestOptions(requestOpts...),
		server.WithLogger(logger.Named("server")),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpSrv.Addr, "issuer", c.Issuer, "callback", srv.CallbackPath())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: unable to shutdown: %w", op, err)
	}
	return nil
}
