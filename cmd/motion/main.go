// Command motion runs the motion hysteresis engine against a level feed and
// writes clips, event logs and a SQLite history of both.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/control"
	"github.com/banshee-data/motion.report/internal/db"
	"github.com/banshee-data/motion.report/internal/fsutil"
	"github.com/banshee-data/motion.report/internal/levelfeed"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/timeutil"
	"github.com/banshee-data/motion.report/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the TOML or JSON configuration file")
	listen      = flag.String("listen", "", "Listen address (overrides [server] listen)")
	source      = flag.String("source", "", "Level source as kind[:path], e.g. serial:/dev/ttyUSB0 or synthetic")
	dbPath      = flag.String("db", "", "SQLite database path (overrides [log] db_path)")
	debug       = flag.Bool("debug", false, "Log every tick")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n       %s migrate up|down|version\n\nFlags:\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(*debug)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Apply(config.Overrides{Listen: *listen, Source: *source, DBPath: *dbPath}); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if flag.Arg(0) == "migrate" {
		if err := runMigrate(cfg.GetDBPath(), flag.Args()[1:]); err != nil {
			log.Fatal(err)
		}
		return
	}
	if flag.NArg() > 0 {
		usage()
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads path. A missing default file falls back to built-in
// defaults so the binary runs outside the repository.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == config.DefaultConfigPath {
		log.Printf("no config at %s, using defaults", path)
		return config.Empty(), nil
	}
	return cfg, err
}

func runMigrate(path string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: migrate up|down|version")
	}
	store, err := db.OpenDB(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	switch args[0] {
	case "up":
		return store.MigrateUp()
	case "down":
		return store.MigrateDown()
	case "version":
		v, dirty, err := store.MigrateVersion()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %v)\n", v, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
}

func run(cfg *config.Config) error {
	clock := timeutil.RealClock{}

	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	a, err := newApp(cfg, fsutil.OSFileSystem{}, clock, store)
	if err != nil {
		return err
	}

	feed, err := levelfeed.Open(cfg, clock)
	if err != nil {
		return fmt.Errorf("failed to open level source: %w", err)
	}
	defer feed.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	control.HandleSignals(ctx, a.engine.Commands())

	// engine routine; the end of the feed stops the daemon
	var engineErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop()
		engineErr = a.runEngine(ctx, feed)
		log.Print("engine routine terminated")
	}()

	if dir := cfg.GetCommandDir(); dir != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := control.WatchDir(ctx, dir, a.engine.Commands()); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("command directory watcher failed: %v", err)
			}
		}()
	}

	if _, err := os.Stat(*configPath); err == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			current := cfg
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				for _, change := range config.Diff(current, next) {
					log.Printf("config changed: %s (restart to apply)", change)
				}
				current = next
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("config watcher failed: %v", err)
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: a.handler(),
		}

		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		a.shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return engineErr
}
