// vnetmgrd: Watches the VNET, VXLAN_TUNNEL and VNET_ROUTE* config tables
// and realizes tunnel routes in the kernel as VXLAN devices enslaved to the
// vnet's VRF, publishing the resulting routes to the app tables.
//
// Flow:
//  1. Load config, seed the VXLAN device inventory from the kernel
//  2. Stream config snapshot changes into the dispatch queues
//  3. Retry deferred records every retryInterval until they apply
//  4. Serve read-only state, app tables and metrics over HTTP

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/glennswest/vnetmgr/pkg/appdb"
	"github.com/glennswest/vnetmgr/pkg/config"
	"github.com/glennswest/vnetmgr/pkg/configdb"
	"github.com/glennswest/vnetmgr/pkg/network"
	"github.com/glennswest/vnetmgr/pkg/network/driver"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	logLevel   string
	driver     string
	listenAddr string
	configDB   string
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "/etc/vnetmgr/config.yaml", "path to the vnetmgrd config file")
	fs.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&o.driver, "driver", "", "kernel driver (iproute, netlink)")
	fs.StringVar(&o.listenAddr, "listen", "", "HTTP listen address for the API and metrics")
	fs.StringVar(&o.configDB, "config-db", "", "path to the config table snapshot")
}

// load reads the config file and applies flags the user set explicitly.
func (o *options) load(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if fs.Changed("driver") {
		cfg.Kernel.Driver = o.driver
	}
	if fs.Changed("listen") {
		cfg.ListenAddr = o.listenAddr
	}
	if fs.Changed("config-db") {
		cfg.ConfigDBPath = o.configDB
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:          "vnetmgrd",
		Short:        "Reconcile VNET config tables into kernel VXLAN state",
		Version:      version,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := o.load(c.Flags())
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			log := logger.Sugar()

			log.Infow("starting vnetmgrd", "version", version, "config", o.configPath)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, cfg, log); err != nil {
				log.Fatalw("vnet manager failed", "error", err)
			}
			log.Info("vnetmgrd stopped")
			return nil
		},
	}
	o.addFlags(cmd.Flags())
	return cmd
}

// newLogger writes JSON logs to stderr and, when configured, to a rotated
// log file.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)}
	if cfg.LogFile.Path != "" {
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile.Path,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAge:     cfg.LogFile.MaxAgeDays,
		}), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	store := appdb.NewStore(cfg.AppDBPath)
	if err := store.Load(); err != nil {
		return err
	}

	drv, err := driver.New(cfg.Kernel, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mgr := network.NewManager(ctx, network.Options{
		Tables:           configdb.DefaultTables,
		DevicePrefix:     cfg.Kernel.DevicePrefix,
		DefaultVxlanPort: cfg.Kernel.DefaultVxlanPort,
		AppKeyDelimiter:  cfg.AppKeyDelimiter,
		RetryInterval:    cfg.RetryInterval,
	}, drv, network.Sinks{
		Routes:       store.Table(appdb.VnetRouteTable),
		RouteTunnels: store.Table(appdb.VnetRouteTunnelTable),
		Switch:       store.Table(appdb.SwitchTable),
	}, network.NewMetrics(reg), log)

	source := configdb.NewFileSource(cfg.ConfigDBPath, configdb.DefaultTables, log)
	records := make(chan []configdb.Record)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		return source.Run(gctx, records)
	})

	if cfg.ListenAddr != "" {
		srv := newHTTPServer(cfg.ListenAddr, mgr, store, reg)
		g.Go(func() error {
			log.Infow("HTTP API listening", "addr", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return mgr.Run(gctx, records)
	})
	return g.Wait()
}

func newHTTPServer(addr string, mgr *network.Manager, store *appdb.Store, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mgr.RegisterRoutes(mux)
	store.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
