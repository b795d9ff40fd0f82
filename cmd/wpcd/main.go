package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opsforge/wpc/internal/admission"
	"github.com/opsforge/wpc/internal/api"
	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/customize"
	"github.com/opsforge/wpc/internal/lifecycle"
	"github.com/opsforge/wpc/internal/observability"
	"github.com/opsforge/wpc/internal/pool"
	"github.com/opsforge/wpc/internal/provider"
	"github.com/opsforge/wpc/internal/provider/sim"
	"github.com/opsforge/wpc/internal/provision"
	"github.com/opsforge/wpc/internal/region"
	"github.com/opsforge/wpc/internal/store"
	"github.com/opsforge/wpc/internal/store/memory"
	"github.com/opsforge/wpc/internal/store/postgres"
	"github.com/opsforge/wpc/internal/tracker"
)

type daemonConfig struct {
	// TeamBudget is the monthly spend cap handed to the fixed ledger.
	TeamBudget float64 `envconfig:"WPC_TEAM_BUDGET" default:"10000"`

	// WarmPools lists pools to keep warm from boot, as comma-separated
	// blueprint/os pairs, e.g. "dev/linux,analytics/windows". Pools
	// referenced by requests are tracked automatically.
	WarmPools string `envconfig:"WPC_WARM_POOLS" default:"dev/linux"`
}

func main() {
	var apiCfg api.Config
	var dCfg daemonConfig
	var poolCfg pool.Config
	var sweepCfg lifecycle.SweeperConfig
	var provCfg provision.Config
	for _, c := range []interface{}{&apiCfg, &dCfg, &poolCfg, &sweepCfg, &provCfg} {
		if err := envconfig.Process("", c); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	log, err := observability.NewLogger(apiCfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	observability.RegisterAll(prometheus.DefaultRegisterer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(ctx, apiCfg)
	if err != nil {
		log.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	regions := region.NewSelector(region.DefaultTable())
	gw := provider.NewGateway(sim.New(), regions,
		provider.DefaultRetryConfig(), provider.DefaultBreakerConfig(), log)
	pipe := customize.NewPipeline(st, gw,
		customize.LocalDirectory{}, customize.LocalVolume{}, customize.LocalSecrets{}, log)
	ctrl := lifecycle.NewController(st, gw, log)
	pools := pool.NewManager(st, gw, pipe, ctrl, poolCfg, log)
	for _, key := range parseWarmPools(dCfg.WarmPools) {
		pools.Track(key)
	}
	sweeper := lifecycle.NewSweeper(ctrl, st, sweepCfg, log)
	gate := admission.NewGate(admission.StaticAuthorizer{},
		admission.NewFixedLedger(dCfg.TeamBudget), log)
	prov := provision.New(st, gate, tracker.New(st, log), pools, gw, pipe, ctrl, provCfg, log)

	handler := api.NewAPI(st, prov, ctrl, pools, log)
	srv := &http.Server{
		Addr:         apiCfg.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: apiCfg.MetricsAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("API server starting", zap.String("addr", apiCfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("metrics server starting", zap.String("addr", apiCfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := pools.Run(gctx)
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := sweeper.Run(gctx)
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), apiCfg.ShutdownTimeout)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal("daemon failed", zap.Error(err))
	}
	log.Info("daemon stopped")
}

func openStore(ctx context.Context, cfg api.Config) (store.Store, func(), error) {
	switch cfg.Store {
	case "memory":
		return memory.New(), func() {}, nil
	case "postgres":
		if cfg.DBDSN == "" {
			return nil, nil, fmt.Errorf("WPC_DB_DSN required for the postgres store")
		}
		pgPool, err := postgres.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pgPool); err != nil {
			pgPool.Close()
			return nil, nil, err
		}
		return postgres.New(pgPool), pgPool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

func parseWarmPools(s string) []core.PoolKey {
	var keys []core.PoolKey
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "/", 2)
		if len(parts) != 2 {
			continue
		}
		keys = append(keys, core.PoolKey{
			BlueprintID: parts[0],
			OS:          core.OperatingSystem(parts[1]),
		})
	}
	return keys
}
