// Command brokerd is the broker's process entrypoint: a small
// github.com/codegangsta/cli application exposing "serve" and
// "version", with seelog configured on startup and mgutz/ansi used for
// colorized terminal output.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/codegangsta/cli"
	"github.com/mgutz/ansi"

	"github.com/mandersen/brokerd/internal/broker"
	"github.com/mandersen/brokerd/internal/config"
	"github.com/mandersen/brokerd/internal/logging"
)

const version = "0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "brokerd"
	app.Usage = "in-memory publish/subscribe and request/response message broker"
	app.Version = version

	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "load configuration and run the broker until interrupted",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Value: "brokerd.yaml", Usage: "path to the YAML configuration file"},
			},
			Action: serveAction,
		},
		{
			Name:   "version",
			Usage:  "print the broker version",
			Action: func(c *cli.Context) error { fmt.Println(version); return nil },
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, ansi.Color(err.Error(), "red+b"))
		os.Exit(1)
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("failed to load configuration: %v", err), 1)
	}

	b, err := broker.New(cfg)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("failed to assemble broker: %v", err), 1)
	}

	if err := logging.Configure(cfg, b.LogHub); err != nil {
		return cli.NewExitError(fmt.Sprintf("failed to configure logging: %v", err), 1)
	}

	if err := b.Start(); err != nil {
		return cli.NewExitError(fmt.Sprintf("failed to start broker: %v", err), 1)
	}

	fmt.Println(ansi.Color(fmt.Sprintf("brokerd %s started on %s", version, cfg.Host), "green+b"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println(ansi.Color("shutting down...", "yellow+b"))
	b.Shutdown()
	fmt.Println(ansi.Color("brokerd stopped", "green+b"))
	return nil
}
