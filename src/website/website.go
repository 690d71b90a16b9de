package website

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"time"

	"git.handmade.network/hmn/assetpipe/src/assetdata"
	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/db"
	"git.handmade.network/hmn/assetpipe/src/jobs"
	"git.handmade.network/hmn/assetpipe/src/logging"
	"git.handmade.network/hmn/assetpipe/src/pipeline"
	"git.handmade.network/hmn/assetpipe/src/queue"
	"git.handmade.network/hmn/assetpipe/src/storage"
	"git.handmade.network/hmn/assetpipe/src/uploads"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var AssetpipeCommand = &cobra.Command{
	Use:   "assetpipe",
	Short: "Chunked uploads and rendition generation for binary assets",
}

var serveWithWorker bool

func init() {
	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload API and the session reaper",
		Run: func(cmd *cobra.Command, args []string) {
			defer logging.LogPanics(nil)
			logging.Info().Msg("Hello, assetpipe!")
			serve(cmd.Context(), config.Config)
		},
	}
	serveCommand.Flags().BoolVar(&serveWithWorker, "worker", false, "Also run a rendition worker in this process")

	workerCommand := &cobra.Command{
		Use:   "worker",
		Short: "Run a rendition worker",
		Run: func(cmd *cobra.Command, args []string) {
			defer logging.LogPanics(nil)
			runWorker(cmd.Context(), config.Config)
		},
	}

	reapCommand := &cobra.Command{
		Use:   "reap",
		Short: "Delete expired upload sessions once and exit",
		Run: func(cmd *cobra.Command, args []string) {
			b, err := openBackends(cmd.Context(), config.Config)
			if err != nil {
				fmt.Printf("ERROR: %v\n", err)
				os.Exit(1)
			}
			defer b.Close()

			res, err := b.Manager(config.Config).ReapExpired(cmd.Context())
			if err != nil {
				fmt.Printf("ERROR: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Deleted %d expired sessions (%d storage uploads aborted)\n", res.Deleted, res.RemoteAborted)
		},
	}

	AssetpipeCommand.AddCommand(serveCommand)
	AssetpipeCommand.AddCommand(workerCommand)
	AssetpipeCommand.AddCommand(reapCommand)
}

// The long-lived handles shared by every command. Each command opens them
// once and passes them down explicitly.
type backends struct {
	Pool     *pgxpool.Pool
	Store    *assetdata.PgStore
	Gateway  storage.Gateway
	Queue    queue.Queue
	Registry *prometheus.Registry
}

func openBackends(ctx context.Context, cfg config.AssetpipeConfig) (*backends, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := db.NewConnPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}

	gateway, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		pool.Close()
		return nil, err
	}

	q, err := queue.Open(ctx, cfg.Queue)
	if err != nil {
		pool.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &backends{
		Pool:     pool,
		Store:    assetdata.NewPgStore(pool),
		Gateway:  gateway,
		Queue:    q,
		Registry: registry,
	}, nil
}

func (b *backends) Manager(cfg config.AssetpipeConfig) *uploads.Manager {
	return uploads.NewManager(b.Store, b.Gateway, b.Queue, uploads.NewMetrics(b.Registry), uploads.OptionsFromConfig(cfg))
}

func (b *backends) Worker(cfg config.AssetpipeConfig) *pipeline.Worker {
	return pipeline.NewWorker(
		b.Queue,
		b.Store,
		b.Gateway,
		pipeline.NewDispatcher(cfg.Render),
		pipeline.NewMetrics(b.Registry),
		pipeline.OptionsFromConfig(cfg),
	)
}

func (b *backends) Close() {
	if err := b.Queue.Close(); err != nil {
		logging.Warn().Err(err).Msg("failed to close queue")
	}
	b.Pool.Close()
}

func startWorker(w *pipeline.Worker) *jobs.Job {
	return jobs.Run("rendition worker", func(job *jobs.Job) error {
		return w.Run(job.Ctx)
	})
}

func serve(ctx context.Context, cfg config.AssetpipeConfig) {
	b, err := openBackends(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open backends")
	}
	defer b.Close()

	manager := b.Manager(cfg)

	var wg sync.WaitGroup

	// Start background jobs
	wg.Add(1)
	backgroundJobs := jobs.Jobs{
		uploads.RunReaper(manager, cfg.Reaper.Interval),
	}
	if serveWithWorker {
		backgroundJobs = append(backgroundJobs, startWorker(b.Worker(cfg)))
	}

	// Create HTTP server
	wg.Add(1)
	server := http.Server{
		Addr: cfg.Addr,
		Handler: NewAssetpipeRoutes(Services{
			Uploads:    manager,
			Renditions: b.Store,
			Gateway:    b.Gateway,
			PresignTTL: cfg.Storage.PresignTTL,
			Health:     b.Pool.Ping,
			Registerer: b.Registry,
			Gatherer:   b.Registry,
		}),
	}
	go func() {
		logging.Info().Str("addr", cfg.Addr).Msg("Serving the upload API")
		serverErr := server.ListenAndServe()
		if !errors.Is(serverErr, http.ErrServerClosed) {
			logging.Error().Err(serverErr).Msg("Server shut down unexpectedly")
		}
		// The wg.Done() happens in the shutdown logic below.
	}()

	// Start up the private HTTP server for pprof. Because it uses the default
	// mux, and we import pprof, it will automatically have all the routes.
	go func() {
		// We don't bother to gracefully shut this down.
		log.Println(http.ListenAndServe(cfg.PrivateAddr, nil))
	}()

	// Wait for SIGINT in the background and trigger graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	go func() {
		<-signals // First SIGINT (start shutdown)
		logging.Info().Msg("Shutting down assetpipe")

		const timeout = 10 * time.Second

		go func() {
			logging.Info().Msg("Shutting down background jobs...")
			unfinished := backgroundJobs.CancelAndWait(timeout)
			if len(unfinished) == 0 {
				logging.Info().Msg("Background jobs closed gracefully")
			} else {
				logging.Warn().Strs("Unfinished", unfinished).Msg("Background jobs did not finish by the deadline")
			}
			wg.Done()
		}()

		// Gracefully shut down the HTTP server
		go func() {
			timeoutCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			err := server.Shutdown(timeoutCtx)
			if err != nil {
				logging.Warn().Err(err).Msg("Server did not shut down gracefully")
			}
			wg.Done()
		}()

		<-signals // Second SIGINT (force quit)
		logging.Warn().Strs("Unfinished background jobs", backgroundJobs.ListUnfinished()).Msg("Forcibly killed assetpipe")
		os.Exit(1)
	}()

	// Wait for all of the above to finish, then exit
	wg.Wait()
}

func runWorker(ctx context.Context, cfg config.AssetpipeConfig) {
	b, err := openBackends(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open backends")
	}
	defer b.Close()

	if cfg.Storage.Backend == config.StorageMemory {
		logging.Warn().Msg("the in-memory storage backend is not shared between processes; use serve --worker instead")
	}

	worker := startWorker(b.Worker(cfg))

	// The worker exposes its metrics on the private address.
	http.Handle("/metrics", promhttpHandler(b.Registry))
	go func() {
		log.Println(http.ListenAndServe(cfg.PrivateAddr, nil))
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	select {
	case <-signals:
		logging.Info().Msg("Shutting down the worker")
		unfinished := jobs.Jobs{worker}.CancelAndWait(time.Minute)
		if len(unfinished) > 0 {
			logging.Warn().Strs("Unfinished", unfinished).Msg("Worker did not finish by the deadline")
		}
	case <-worker.Finished():
	}
}
