package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assurance/internal/daemon"
	"assurance/internal/logger"
	"assurance/internal/pipeline"
	"assurance/internal/repository"
	"assurance/internal/watcher"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(false)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start the daemon and rescan definitions whose trees change",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(true)
	},
}

func runDaemon(watch bool) error {
	defer logger.Sync()

	manager := daemon.NewScanManager(cfg)

	srv := daemon.NewServer(manager, cfg.DaemonPort)
	srv.Start()

	logger.Log.Info("assurance daemon started",
		zap.Int("port", cfg.DaemonPort),
		zap.Bool("watch", watch))

	if watch {
		w, err := startWatching(manager)
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Log.Info("shutting down",
			zap.String("signal", sig.String()))
	case <-srv.StopCh():
		logger.Log.Info("stop requested via API")
	}

	manager.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

// startWatching rescans a definition once its roots have been quiet for the
// configured delay.
func startWatching(manager *daemon.ScanManager) (*watcher.Watcher, error) {
	defs, err := repository.NewDefinitionRepository().GetAll()
	if err != nil {
		return nil, err
	}

	w, err := watcher.New(cfg.BufferSize, pipeline.NewFilter(cfg.IgnoredFileNames, cfg.IgnoredExtensions, nil))
	if err != nil {
		return nil, err
	}

	for _, def := range defs {
		if err := w.Watch(def.ID, def.SourcePath, def.TargetPath); err != nil {
			logger.Log.Warn("failed to watch definition",
				zap.String("definition", def.ID),
				zap.Error(err))
		}
	}

	if len(defs) == 0 {
		logger.Log.Info("no definitions configured, use 'assurance definition add' to add one")
	}

	go func() {
		for id := range pipeline.Debounce(w.Events(), cfg.RescanDelay) {
			if _, err := manager.Start(id); err != nil {
				logger.Log.Warn("rescan not started",
					zap.String("definition", id),
					zap.Error(err))
			}
		}
	}()

	return w, nil
}

func init() {
	rootCmd.AddCommand(serveCmd, watchCmd)
}
