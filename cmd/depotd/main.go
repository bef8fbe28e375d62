// Command depotd runs the depot server: the HTTP API, the async workers and
// the configured storage backends in one process.
package main

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/depotdb/depot/coordinator"
	"github.com/depotdb/depot/entries"
	"github.com/depotdb/depot/http"
	"github.com/depotdb/depot/logger"
	"github.com/depotdb/depot/meta"
	"github.com/depotdb/depot/queue"
	"github.com/depotdb/depot/worker"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "depotd",
		Short:        "depotd runs the depot versioned dataset store",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), v)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a config file (toml or yaml)")
	return cmd
}

// loadConfig merges defaults, the optional config file and DEPOT_*
// environment variables. Unknown keys are ignored.
func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.context-root", "/")
	v.SetDefault("async-task.poll-interval", time.Second)
	v.SetDefault("async-task.operations-topic", "depot.operations")
	v.SetDefault("async-task.handler-fn", "default")
	v.SetDefault("async-task.workers", 1)
	v.SetDefault("kv-store.type", "in-memory")
	v.SetDefault("kv-store.path", "depot-entries.db")
	v.SetDefault("meta-data-store.type", "in-memory")
	v.SetDefault("meta-data-store.path", "depot-meta.db")
	v.SetDefault("queue.type", "in-memory")
	v.SetDefault("queue.path", "depot-queue.db")
	v.SetDefault("queue.lease-time", queue.DefaultLeaseTime)
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("DEPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "reading config file")
		}
	}
	return v, nil
}

// storeCloser pairs a kv store handle with its shutdown hook.
type storeCloser func() error

func run(ctx context.Context, v *viper.Viper) error {
	log := logger.New(os.Stdout, logger.ParseLevel(v.GetString("logging.level")))
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()

	metaKV, closeMeta, err := openStore(ctx, v, "meta-data-store", log)
	if err != nil {
		return err
	}
	defer func() { _ = closeMeta() }()

	entryKV, closeEntries, err := openStore(ctx, v, "kv-store", log)
	if err != nil {
		return err
	}
	defer func() { _ = closeEntries() }()

	queueKV, closeQueue, err := openStore(ctx, v, "queue", log)
	if err != nil {
		return err
	}
	defer func() { _ = closeQueue() }()

	var metaSvc meta.MetaService = meta.NewService(meta.NewStore(metaKV))
	metaSvc = meta.NewLogger(log.Named("meta"), metaSvc)
	metaSvc = meta.NewMetrics(reg, metaSvc)

	entrySvc := entries.NewStore(entryKV, entries.WithCodec(entries.NewCodec()))

	q := queue.NewMetrics(reg, queue.NewQueue(queueKV,
		queue.WithLeaseTime(v.GetDuration("queue.lease-time")),
	))

	topic := v.GetString("async-task.operations-topic")
	coord := coordinator.New(metaSvc, entrySvc, q, topic,
		coordinator.WithLogger(log.Named("coordinator")),
	)

	if fn := v.GetString("async-task.handler-fn"); fn != "default" {
		return errors.Errorf("unrecognized async-task.handler-fn %q", fn)
	}
	handlers := worker.NewHandlers(metaSvc, q, topic, log.Named("handlers"))

	handler := http.NewAPIHandler(&http.APIBackend{
		Logger:             log.Named("http"),
		Coordinator:        coord,
		PrometheusRegistry: reg,
	}, v.GetString("server.context-root"))

	srv := &nethttp.Server{
		Addr:    fmt.Sprintf(":%d", v.GetInt("server.port")),
		Handler: handler,
	}

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < v.GetInt("async-task.workers"); i++ {
		w := worker.New(q, topic, handlers.Table(),
			worker.WithPollInterval(v.GetDuration("async-task.poll-interval")),
			worker.WithLogger(log.Named("worker")),
		)
		g.Go(func() error {
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore builds the kv store configured under section, returning the
// handle and its closer.
func openStore(ctx context.Context, v *viper.Viper, section string, log *zap.Logger) (kvStore, storeCloser, error) {
	typ := v.GetString(section + ".type")
	switch typ {
	case "in-memory":
		return inmemStore(), func() error { return nil }, nil
	case "bolt", "remote-doc-store":
		c := boltStore(v.GetString(section+".path"), log.Named("bolt"))
		if err := c.Open(ctx); err != nil {
			return nil, nil, errors.Wrapf(err, "opening %s backend", section)
		}
		return c, c.Close, nil
	default:
		return nil, nil, errors.Errorf("unrecognized %s.type %q", section, typ)
	}
}
