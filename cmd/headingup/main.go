// Package main is the headingup command.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"headingup/internal/config"
	"headingup/internal/coords"
	"headingup/internal/kv"
	"headingup/internal/logging"
	"headingup/internal/waypoint"
	"headingup/internal/web"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagListen   = "listen"
	flagSim      = "sim"
	flagName     = "name"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			os.Exit(ec.ExitCode())
		}
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:            "headingup",
		Usage:           "heading-up map companion: bearing fusion and waypoints",
		HideHelpCommand: true,
		Writer:          stdout,
		ErrWriter:       stderr,
		// main decides the exit code.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "path to YAML config; empty runs in memory",
				EnvVars: []string{"HEADINGUP_CONFIG"},
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "override log.level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP/websocket service",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagListen, Usage: "override listen address"},
					&cli.BoolFlag{Name: flagSim, Usage: "force the simulated sensor source on"},
				},
				Action: serveAction,
			},
			{
				Name:      "parse",
				Usage:     "parse free-text coordinates and print them normalized",
				ArgsUsage: "<coordinates>",
				Action:    parseAction,
			},
			{
				Name:            "waypoints",
				Usage:           "work with saved waypoints",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list saved waypoints",
						Action: listWaypointsAction,
					},
					{
						Name:      "add",
						Usage:     "add a waypoint",
						ArgsUsage: "<coordinates>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: flagName, Usage: "waypoint name", Value: waypoint.DefaultName},
						},
						Action: addWaypointAction,
					},
					{
						Name:      "rm",
						Usage:     "remove a waypoint",
						ArgsUsage: "<id>",
						Action:    removeWaypointAction,
					},
				},
			},
		},
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	var cfg config.Config
	if p := strings.TrimSpace(c.String(flagConfig)); p != "" {
		loaded, err := config.Load(p)
		if err != nil {
			return config.Config{}, fmt.Errorf("config load failed: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	if lvl := strings.TrimSpace(c.String(flagLogLevel)); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if l := strings.TrimSpace(c.String(flagListen)); l != "" {
		cfg.Listen = l
	}
	if c.Bool(flagSim) {
		cfg.Sim.Enable = true
		cfg.GPS.Enable = false
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return err
	}

	logs := web.NewLogBuffer(2000)
	log := logging.New(logging.Options{Level: cfg.Log.Level, Console: c.App.ErrWriter, Extra: []io.Writer{logs}})

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg, log, logs)
	if err != nil {
		return err
	}
	log.Info().Str("listen", cfg.Listen).Str("storage", cfg.Storage.Backend).Msg("headingup starting")
	runErr := rt.Run(ctx)
	closeErr := rt.Close()
	log.Info().Msg("headingup stopped")
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func parseAction(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	p, err := coords.Parse(text)
	if err != nil {
		return cli.Exit(fmt.Sprintf("%v\n%s", err, coords.Hint), 2)
	}
	fmt.Fprintf(c.App.Writer, "%.6f, %.6f\t%s\n", p.Lat, p.Lon, coords.Format(p))
	return nil
}

func openStore(c *cli.Context) (*waypoint.Store, kv.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(logging.Options{Level: cfg.Log.Level, Console: c.App.ErrWriter})
	store, err := kv.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	return waypoint.NewStore(waypoint.StoreConfig{KV: store, Logger: log}), store, nil
}

func listWaypointsAction(c *cli.Context) error {
	wps, store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()
	list := wps.List()
	if len(list) == 0 {
		fmt.Fprintln(c.App.Writer, "no waypoints")
		return nil
	}
	for _, w := range list {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", w.ID, w.Name, coords.Format(w.Coords))
	}
	return nil
}

func addWaypointAction(c *cli.Context) error {
	p, err := coords.Parse(strings.Join(c.Args().Slice(), " "))
	if err != nil {
		return cli.Exit(fmt.Sprintf("%v\n%s", err, coords.Hint), 2)
	}
	wps, store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()
	w, err := wps.Add(c.String(flagName), p)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", w.ID, w.Name, coords.Format(w.Coords))
	return nil
}

func removeWaypointAction(c *cli.Context) error {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return cli.Exit("waypoint id is required", 2)
	}
	wps, store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()
	if _, ok := wps.Get(id); !ok {
		fmt.Fprintf(c.App.Writer, "%s not found\n", id)
		return nil
	}
	wps.Remove(id)
	fmt.Fprintf(c.App.Writer, "removed %s\n", id)
	return nil
}
