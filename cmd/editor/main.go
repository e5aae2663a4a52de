package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/prefabkit/internal/config"
	"github.com/zeusync/prefabkit/internal/core/assets"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
	"github.com/zeusync/prefabkit/internal/injector"
)

func main() {
	os.Exit(realMain())
}

// realMain holds the deferred cleanup so it runs before the process exits.
func realMain() int {
	configPath := flag.String("config", "", "path to a .yaml, .toml or .json config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "Error loading config:", err)
			return 1
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := injector.InitializeApp(cfg)
	defer func() { _ = app.Log.Sync() }()

	if err := run(ctx, app); err != nil {
		app.Log.Error("editor stopped", log.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, app *injector.App) error {
	cfg, em := app.Config, app.Editor

	n, err := em.PreloadTemplates(ctx, cfg.Project.PrefabDir, cfg.Project.PrefabExt, cfg.Editor.PreloadWorkers)
	if err != nil {
		app.Log.Warn("some templates failed to load", log.Error(err))
	}
	app.Log.Info("templates loaded", log.Int("count", n))
	app.Log.Info("editor running",
		log.String("root", app.Assets.Root()),
		log.Duration("frame_interval", cfg.Editor.FrameInterval.Std()),
		log.Bool("watch_assets", cfg.Editor.WatchAssets),
	)

	if _, err = em.Scene().LoadAsset(app.Assets, cfg.Project.Scene); err != nil && !errors.Is(err, assets.ErrAssetNotFound) {
		return err
	}

	watchErr := make(chan error, 1)
	if cfg.Editor.WatchAssets {
		go func() { watchErr <- em.Watch(ctx, cfg.Project.PrefabExt) }()
	}

	// SIGUSR1 toggles play mode
	play := make(chan os.Signal, 1)
	signal.Notify(play, syscall.SIGUSR1)
	defer signal.Stop(play)

	ticker := time.NewTicker(cfg.Editor.FrameInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-play:
			if em.Playing() {
				err = em.ExitPlayMode()
			} else {
				err = em.EnterPlayMode(cfg.Project.CheckpointPath)
			}
			if err != nil {
				app.Log.Error("failed to toggle play mode", log.Error(err))
			} else {
				app.Log.Info("play mode", log.Bool("playing", em.Playing()))
			}
		case <-ctx.Done():
			app.Log.Info("shutting down")
			if em.Playing() {
				if err = em.ExitPlayMode(); err != nil {
					return err
				}
			}
			return em.Scene().SaveAsset(app.Assets, cfg.Project.Scene)
		case err = <-watchErr:
			if err != nil {
				return fmt.Errorf("asset watcher: %w", err)
			}
		case <-ticker.C:
			if err = em.Update(); err != nil {
				app.Log.Warn("frame update failed", log.Error(err))
			}
		}
	}
}
