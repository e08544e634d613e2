// Command subwatch watches an art site for new submissions and delivers the
// ones matching stored subscription queries to chat destinations.
//
//	run    Load the store, start the pipeline and the admin/metrics endpoint. For systemd.
//	check  Parse a subscription query and print its normalised form.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/subwatch/subwatch/internal/config"
	"github.com/subwatch/subwatch/internal/fasite"
	"github.com/subwatch/subwatch/internal/metrics"
	"github.com/subwatch/subwatch/internal/platform/webhook"
	"github.com/subwatch/subwatch/internal/query"
	"github.com/subwatch/subwatch/internal/subcache"
	"github.com/subwatch/subwatch/internal/subscription"
	"github.com/subwatch/subwatch/internal/watcher"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Printf("subwatch: reading .env: %v", err)
	}

	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "run":
		runCmd := flag.NewFlagSet("run", flag.ExitOnError)
		cfgPath := runCmd.String("config", "", "path to a JSON config file (env vars override it)")
		runCmd.Parse(args)
		if err := run(*cfgPath); err != nil {
			log.Fatalf("subwatch: %v", err)
		}
	case "check":
		checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
		checkCmd.Parse(args)
		q := strings.Join(checkCmd.Args(), " ")
		parsed, err := query.ParseQuery(q)
		if err != nil {
			log.Fatalf("subwatch: %v", err)
		}
		fmt.Println(parsed.String())
	default:
		fmt.Fprintf(os.Stderr, "usage: subwatch [run|check] ...\n")
		os.Exit(2)
	}
}

func run(cfgPath string) error {
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		return err
	}
	if !cfg.Watcher.Enabled {
		log.Printf("subwatch: disabled by config, exiting")
		return nil
	}
	if cfg.SiteBaseURL == "" || cfg.PlatformURL == "" {
		return fmt.Errorf("SUBWATCH_SITE_URL and SUBWATCH_PLATFORM_URL must be set")
	}

	store, latestIDs, err := subscription.Load(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("loading store %s: %w", cfg.StorePath, err)
	}
	cache, err := subcache.Open(cfg.CachePath)
	if err != nil {
		return err
	}
	defer cache.Close()

	m := metrics.New(prometheus.NewRegistry())
	siteClient := fasite.New(cfg.SiteBaseURL, cfg.SiteAPIKey, cfg.SandboxDir, cfg.SiteRateLimit)
	platform := webhook.New(cfg.PlatformURL, cfg.PlatformToken)
	w := watcher.New(cfg.Watcher, siteClient, platform, store, cache, m,
		cfg.StorePath, latestIDs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		cmds := &subscription.Commands{
			Store: store,
			Save: func() error {
				return subscription.Save(cfg.StorePath, store, w.LatestIDs())
			},
			Usage: m.CountUsage,
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		registerAdmin(mux, cmds)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Printf("subwatch: admin/metrics on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("subwatch: admin server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	log.Printf("subwatch: watching %s with %d subscriptions", cfg.SiteBaseURL, store.Len())
	w.Run(ctx)
	log.Printf("subwatch: shut down cleanly")
	return nil
}
