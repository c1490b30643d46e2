package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/hotel-ops-gateway/identity"
	"github.com/jrsteele09/hotel-ops-gateway/internal/config"
	"github.com/jrsteele09/hotel-ops-gateway/internal/logging"
	"github.com/jrsteele09/hotel-ops-gateway/server"
	"github.com/jrsteele09/hotel-ops-gateway/throttle"
	"github.com/rs/zerolog/log"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	logging.Setup(c.GetEnv(), c.GetLogLevel())
	displayAppname(c.GetAppName())

	limiter, closeLimiter, err := newLimiter(c)
	if err != nil {
		return err
	}
	defer closeLimiter()

	identityClient := identity.NewClient(c.GetIdentityServiceURL(), c.GetUpstreamTimeout())
	handler, err := server.New(c, identityClient, limiter)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	srv := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- listenAndServe(srv) }()

	select {
	case err := <-errc:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

func newLimiter(c config.Config) (throttle.Limiter, func(), error) {
	nop := func() {}
	if !c.GetEnableRateLimiting() {
		return throttle.Nop{}, nop, nil
	}
	if c.GetRateLimitBackend() == config.RateLimitBackendRedis {
		r, err := throttle.NewRedisFromEnv(c.GetLoginMaxAttempts(), c.GetLoginAttemptWindow())
		if err != nil {
			return nil, nop, fmt.Errorf("throttle.NewRedisFromEnv: %w", err)
		}
		log.Info().Msg("Login throttle backed by redis")
		return r, func() { _ = r.Close() }, nil
	}
	log.Info().Msg("Login throttle backed by memory")
	return throttle.NewMemory(c.GetLoginMaxAttempts(), c.GetLoginAttemptWindow()), nop, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
