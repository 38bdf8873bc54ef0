package entrypoint

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/akovalev/syncbridge/internal/config"
	"github.com/akovalev/syncbridge/internal/database/preferences"
	"github.com/akovalev/syncbridge/internal/database/profile"
	"github.com/akovalev/syncbridge/internal/database/queue"
	"github.com/akovalev/syncbridge/internal/database/subscription"
	http_controllers "github.com/akovalev/syncbridge/internal/http"
	"github.com/akovalev/syncbridge/internal/remote"
	"github.com/akovalev/syncbridge/internal/scheduler"
	"github.com/akovalev/syncbridge/internal/services"
	"github.com/akovalev/syncbridge/internal/storage"
	"github.com/akovalev/syncbridge/internal/syncer"
	"github.com/akovalev/syncbridge/internal/tasks"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// App bundles the wired components so commands other than serve can reuse
// the same construction.
type App struct {
	Config         *config.Config
	Store          *storage.Store
	Remote         *remote.Client
	Queue          *queue.Store
	SyncService    *syncer.Service
	ProfileService *services.ProfileService
	Preferences    *preferences.Repository
	Subscriptions  *subscription.Repository
}

// Build wires the storage, remote client, queue and services from config.
// The caller owns Close on the returned app.
func Build(cfg *config.Config) (*App, error) {
	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	rc := remote.NewClient(remote.Config{
		BaseURL:     cfg.Remote.URL,
		APIKey:      cfg.Remote.APIKey,
		RedirectURL: cfg.Remote.RedirectURL,
		Timeout:     cfg.Remote.Timeout,
	})
	if !rc.IsAvailable() {
		log.Printf("WARNING: remote backend is not configured. Set 'REMOTE_URL' and 'REMOTE_API_KEY' to enable sync; writes will queue locally.")
	}

	q := queue.NewStoreWithCapacity(store, cfg.Sync.QueueCapacity)

	profileRepo := profile.NewRepository(rc, store, q, cfg.Remote.Timeout)
	prefsRepo := preferences.NewRepository(rc, store, q, cfg.Remote.Timeout)
	subsRepo := subscription.NewRepository(rc, store, q, cfg.Remote.Timeout)

	return &App{
		Config:         cfg,
		Store:          store,
		Remote:         rc,
		Queue:          q,
		SyncService:    syncer.NewService(rc, q, store, cfg.Sync.MaxAttempts, cfg.Sync.ItemTimeout),
		ProfileService: services.NewProfileService(profileRepo),
		Preferences:    prefsRepo,
		Subscriptions:  subsRepo,
	}, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}
}

func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		fmt.Printf("Starting server at %s:%d\n", cfg.HTTP.Host, cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Call shutdown callback first (e.g., to stop the task queue and
	// scheduler before the listener goes away)
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}

	log.Println("Server exiting")
}

func Run(cfg *config.Config, version string) {
	log.Printf("Starting syncbridge v%s", version)

	setupLogging(cfg)

	app, err := Build(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer app.Close()

	// Task queue: drain requests are durable, so a trigger accepted just
	// before a crash still runs after restart.
	var taskClient *tasks.Client
	var taskCtxCancel context.CancelFunc
	var trigger func(reason string) error

	if cfg.Tasks.Enabled {
		taskCfg := tasks.Config{
			Workers:         cfg.Tasks.Workers,
			ReleaseAfter:    cfg.Tasks.ReleaseAfter,
			CleanupInterval: cfg.Tasks.CleanupInterval,
		}

		taskClient, err = tasks.NewClient(cfg.Database.Path, taskCfg)
		if err != nil {
			log.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				log.Printf("Error closing task client: %v", err)
			}
		}()

		taskClient.Register(tasks.NewDrainQueue(app.SyncService))

		var taskCtx context.Context
		taskCtx, taskCtxCancel = context.WithCancel(context.Background())
		go taskClient.Start(taskCtx)

		trigger = func(reason string) error {
			_, err := taskClient.Add(tasks.DrainQueueTask{Reason: reason}).Save()
			return err
		}
	} else {
		// Without the durable queue, drain inline.
		trigger = func(reason string) error {
			_, err := app.SyncService.ProcessQueue(context.Background())
			return err
		}
	}

	// Scheduler fires drains on the configured cron schedule.
	var sched *scheduler.SyncScheduler
	if cfg.Sync.Enabled {
		sched = scheduler.NewSyncScheduler(app.SyncService, cfg.Sync.Schedule, trigger)
		if err := sched.Start(context.Background()); err != nil {
			log.Fatalf("Failed to start sync scheduler: %v", err)
		}
	}

	routerCfg := http_controllers.RouterConfig{
		Store:          app.Store,
		Remote:         app.Remote,
		SyncService:    app.SyncService,
		ProfileService: app.ProfileService,
		TriggerDrain:   trigger,
		Version:        version,
	}

	router := http_controllers.NewRouter(routerCfg)

	onShutdown := func(ctx context.Context) {
		if sched != nil {
			sched.Stop()
		}
		if taskClient != nil && taskCtxCancel != nil {
			taskClient.Stop(ctx)
			taskCtxCancel()
		}
	}

	Serve(router, cfg, onShutdown)
}

// setupLogging routes the standard logger through a rotating file when
// LOG_FILE is set.
func setupLogging(cfg *config.Config) {
	if cfg.Log.File == "" {
		return
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   true,
	})
}
