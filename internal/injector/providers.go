package injector

import (
	"github.com/google/wire"
	"github.com/zeusync/prefabkit/internal/config"
	"github.com/zeusync/prefabkit/internal/core/assets"
	"github.com/zeusync/prefabkit/internal/core/events/bus"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
	"github.com/zeusync/prefabkit/internal/core/prefab"
	"github.com/zeusync/prefabkit/internal/core/scene"
	"github.com/zeusync/prefabkit/internal/core/snapshot"
	"github.com/zeusync/prefabkit/internal/editor"
)

// App is the wired editor process.
type App struct {
	Config *config.Config
	Log    *log.Logger
	Bus    bus.EventBus
	Assets *assets.Manager
	Editor *editor.Manager
}

func NewApp(cfg *config.Config, logger *log.Logger, eventBus bus.EventBus, am *assets.Manager, em *editor.Manager) *App {
	return &App{Config: cfg, Log: logger, Bus: eventBus, Assets: am, Editor: em}
}

func ProvideLogger(cfg *config.Config) *log.Logger {
	return log.New(cfg.LogLevel())
}

func ProvideEngine(cfg *config.Config, logger log.Log) *snapshot.Engine {
	return snapshot.NewEngine(logger, snapshot.WithFormat(cfg.Format()))
}

func ProvideAssets(cfg *config.Config, logger log.Log) *assets.Manager {
	return assets.NewManager(cfg.Project.Root, logger)
}

func ProvideTemplates(am *assets.Manager) *prefab.Templates {
	return prefab.NewTemplates(am)
}

func ProvideScene(cfg *config.Config, engine *snapshot.Engine, logger log.Log) *scene.Scene {
	return scene.New(cfg.Project.Scene, engine, logger)
}

var Set = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	bus.New,
	ProvideEngine,
	ProvideAssets,
	ProvideTemplates,
	prefab.NewSyncer,
	ProvideScene,
	editor.NewManager,
	NewApp,
)
