package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"framedftp/server"
	"framedftp/terminal"
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())

	// Parse command line arguments
	config, err := terminal.ParseFlags(os.Args[1:], os.Stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return
	case errors.Is(err, terminal.ErrVersion):
		terminal.ShowVersion(os.Stdout)
		return
	case err != nil:
		terminal.HandleStartupError(log, err, "parse command line arguments")
	}

	// Validate configuration
	if err := terminal.ValidateConfig(config); err != nil {
		terminal.HandleStartupError(log, err, "validate configuration")
	}
	if err := terminal.ConfigureLogging(logrus.StandardLogger(), config); err != nil {
		terminal.HandleStartupError(log, err, "configure logging")
	}

	opts, err := terminal.ServerOptions(config, log)
	if err != nil {
		terminal.HandleStartupError(log, err, "load users")
	}
	srv, err := server.NewFTPServer(opts)
	if err != nil {
		terminal.HandleStartupError(log, err, "create server")
	}
	if err := srv.Listen(); err != nil {
		terminal.HandleStartupError(log, err, "start server")
	}

	// Print startup information
	terminal.PrintStartupInfo(os.Stdout, config, srv.Addr().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		terminal.HandleStartupError(log, err, "serve")
	}
}
