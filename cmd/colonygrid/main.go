// Command colonygrid runs a colony power grid: it loads a colony layout,
// ticks every electrical network at a fixed step, and serves the colony to
// the configured datastreams, the webservice and an optional console.
//
// Usage:
//
//	colonygrid [flags]
//
// Flags:
//
//	-config string      Colony layout (YAML); an empty colony when unset
//	-log-level string   Log level: debug, info, warn, error (overrides the layout)
//	-interactive        Start the operator console
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ohowland/colony_grid/cmd/colonygrid/interactive"
	"github.com/ohowland/colony_grid/internal/pkg/config"
	"github.com/ohowland/colony_grid/internal/pkg/datastreams/mongodb"
	"github.com/ohowland/colony_grid/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/colony_grid/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/colony_grid/internal/pkg/root"
	"github.com/ohowland/colony_grid/internal/pkg/webservice"
)

type flags struct {
	configPath  string
	logLevel    string
	interactive bool
}

func parseFlags() flags {
	f := flags{}
	flag.StringVar(&f.configPath, "config", "", "colony layout (YAML)")
	flag.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.BoolVar(&f.interactive, "interactive", false, "start the operator console")
	flag.Parse()
	return f
}

func loadConfig(f flags) (*config.Config, error) {
	if f.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(f.configPath)
}

// handler is a datastream recorder.
type handler interface {
	Process()
	Stop()
}

func main() {
	if err := run(); err != nil {
		log.Errorf("[Main] %v", err)
		os.Exit(1)
	}
}

func run() error {
	f := parseFlags()

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if f.logLevel != "" {
		level = f.logLevel
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	log.Info("[Main] Starting colonygrid")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("[Main] Building colony")
	system, err := root.NewSystem(cfg)
	if err != nil {
		return err
	}

	log.Info("[Main] Connecting datastreams")
	streams, err := connectDatastreams(ctx, cfg.Datastreams, system)
	defer streams.close()
	if err != nil {
		return err
	}
	handlers := streams.handlers

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h handler) {
			defer wg.Done()
			h.Process()
		}(h)
	}

	if cfg.Webservice.Enabled() {
		var opts []webservice.Option
		if streams.transitions != nil {
			opts = append(opts, webservice.WithTransitions(streams.transitions))
		}
		srv := webservice.New(system, opts...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.Webservice.Addr); err != nil {
				log.Errorf("[Main] webservice: %v", err)
				cancel()
			}
		}()
	}

	if f.interactive {
		console, err := interactive.New(system)
		if err != nil {
			return err
		}
		log.SetOutput(console.Stdout())
		go console.Run(ctx, cancel)
	}

	log.Info("[Main] Starting update loop")
	err = system.Run(ctx)

	// Run closes every subscription, which ends the datastream handlers.
	for _, h := range handlers {
		h.Stop()
	}
	wg.Wait()
	log.Info("[Main] Stopping system")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// datastreams holds the running handlers and the connections behind them.
type datastreams struct {
	handlers    []handler
	closers     []func()
	transitions *sqldb.Store
}

func (d *datastreams) close() {
	for _, c := range d.closers {
		c()
	}
}

// connectDatastreams builds a handler for every enabled datastream. The
// returned value is never nil and must be closed even when an error is returned.
func connectDatastreams(ctx context.Context, cfg config.Datastreams, system *root.System) (*datastreams, error) {
	d := &datastreams{}

	if cfg.SQL.Enabled() {
		db, err := sqldb.Open(cfg.SQL)
		if err != nil {
			return d, fmt.Errorf("sql: %w", err)
		}
		d.closers = append(d.closers, func() { db.Close() })
		d.transitions = sqldb.NewStore(db)
		h, err := sqldb.New(d.transitions, system)
		if err != nil {
			return d, err
		}
		d.handlers = append(d.handlers, h)
	}

	if cfg.NATS.Enabled() {
		nc, err := natshandler.Dial(cfg.NATS)
		if err != nil {
			return d, fmt.Errorf("nats: %w", err)
		}
		d.closers = append(d.closers, nc.Close)
		h, err := natshandler.New(cfg.NATS.Subject, nc, system)
		if err != nil {
			return d, err
		}
		d.handlers = append(d.handlers, h)
	}

	if cfg.Mongo.Enabled() {
		client, coll, err := mongodb.Connect(ctx, cfg.Mongo)
		if err != nil {
			return d, fmt.Errorf("mongo: %w", err)
		}
		d.closers = append(d.closers, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warnf("[Main] mongo disconnect: %v", err)
			}
		})
		h, err := mongodb.New(coll, system)
		if err != nil {
			return d, err
		}
		d.handlers = append(d.handlers, h)
	}

	return d, nil
}
