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
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/devbackend"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running dev backend")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load(os.Getenv("AUTHCLIENT_CONFIG"))
	if err != nil {
		return err
	}
	logger := logging.Setup(c, nil)
	displayAppname(c.GetAppName() + " dev")

	backend, err := devbackend.New(c, devbackend.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := seedUsers(backend); err != nil {
		return err
	}

	server := &http.Server{Addr: c.GetListenAddr(), Handler: backend}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(server) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(server)
}

// seedUsers creates the demo accounts. All share one password, taken from
// AUTHCLIENT_DEV_PASSWORD.
func seedUsers(backend *devbackend.Server) error {
	password := config.GetEnv("AUTHCLIENT_DEV_PASSWORD", "password")
	for username, user := range map[string]devbackend.User{
		"ada":   {Name: "Ada Lovelace", Role: "instructor", OrgUnit: "maths"},
		"grace": {Name: "Grace Hopper", Role: "admin"},
		"alan":  {Name: "Alan Turing", Role: "student", OrgUnit: "maths"},
	} {
		if _, err := backend.AddUser(username, password, user); err != nil {
			return fmt.Errorf("seed user %s: %w", username, err)
		}
	}
	return nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
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
