// SPDX-License-Identifier: GPL-2.0-or-later

// Package capture wires the capture pipeline into a daemon.
package capture

import (
	"capture/pkg/cache"
	"capture/pkg/log"
	"capture/pkg/metrics"
	"capture/pkg/pipeline"
	"capture/pkg/recorder"
	"capture/pkg/sink/filesink"
	"capture/pkg/source"
	"capture/pkg/storage"
	"capture/pkg/system"
	"capture/pkg/web"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// EnvVar default path to env.yaml if the flag isn't set.
const EnvVar = "CAPTURE_ENV"

// Run .
func Run() error {
	envFlag := flag.String("env", "", "path to env.yaml, defaults to $"+EnvVar)
	dotenvFlag := flag.String("dotenv", ".env", "optional .env file")
	flag.Parse()

	err := godotenv.Load(*dotenvFlag)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not load %v: %w", *dotenvFlag, err)
	}

	envPath := *envFlag
	if envPath == "" {
		envPath = os.Getenv(EnvVar)
	}
	if envPath == "" {
		flag.Usage()
		return nil
	}

	envPath, err = filepath.Abs(envPath)
	if err != nil {
		return fmt.Errorf("could not get absolute path of env.yaml: %w", err)
	}

	wg := &sync.WaitGroup{}
	app, err := newApp(envPath, wg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 1)
	go func() { fatal <- app.run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
		app.Logger.Error().Src("app").Msgf("fatal error: %v", err)
	case signal := <-stop:
		app.Logger.Info().Src("app").Msgf("received %v, stopping", signal)
	}

	app.shutdown()

	cancel()
	if err == nil {
		err = <-fatal
	}
	app.pipeline.Close()
	wg.Wait()
	return err
}

// App is the main application struct.
type App struct {
	WG     *sync.WaitGroup
	Logger *log.Logger
	Env    storage.ConfigEnv

	logDB    *log.DB
	pipeline *pipeline.Context
	cache    *cache.Cache
	recorder *recorder.Recorder
	system   *system.System
	source   *source.Source
	server   *web.Server
}

func newApp(envPath string, wg *sync.WaitGroup) (*App, error) {
	// Environment config.
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not read env.yaml: %w", err)
	}

	env, err := storage.NewConfigEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("could not get environment config: %w", err)
	}

	// Logs.
	level, err := log.ParseLevel(env.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := log.NewLogger(wg, level)
	logDB := log.NewDB(env.LogDB, wg)

	// Pipeline.
	m := metrics.New()
	ctx := pipeline.New(logger, m, env.Capture.QueueSize)

	c := cache.New(ctx, filesink.New(env.Capture.SinkQueueSize), cache.Config{
		Window:      env.Capture.CacheDuration,
		DrainBudget: env.Capture.DrainBudget,
		Live:        env.Capture.Live,
	})

	disk := storage.NewDisk(env.StorageDir)
	rec := recorder.New(env, c, disk.Usage, logger)
	sys := system.New(disk.Usage, logger)

	format, err := env.Capture.Video.PixelFormat()
	if err != nil {
		return nil, err
	}
	src := source.New(source.Config{
		Width:         env.Capture.Video.Width,
		Height:        env.Capture.Video.Height,
		FPS:           env.Capture.Video.FPS,
		Format:        format,
		SampleRate:    env.Capture.Audio.SampleRate,
		Channels:      env.Capture.Audio.Channels,
		ChunkDuration: env.Capture.Audio.ChunkDuration,
	}, ctx.Tracker, c, logger)

	router := web.NewRouter(web.Deps{
		Controller:   rec,
		Logger:       logger,
		LogDB:        logDB,
		SystemStatus: sys.Status,
		Metrics:      m.Handler(),
	})

	return &App{
		WG:     wg,
		Logger: logger,
		Env:    *env,

		logDB:    logDB,
		pipeline: ctx,
		cache:    c,
		recorder: rec,
		system:   sys,
		source:   src,
		server:   web.NewServer(env.Port, router, logger),
	}, nil
}

func (app *App) run(ctx context.Context) error {
	app.Logger.Start(ctx)
	go app.Logger.LogToStdout(ctx)

	if err := app.Env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("could not prepare environment: %w", err)
	}

	if err := app.logDB.Init(ctx); err != nil {
		// Continue even if log database is corrupt.
		time.Sleep(10 * time.Millisecond)
		app.Logger.Error().Src("app").Msgf("could not initialize log database: %v", err)
	} else {
		go app.logDB.SaveLogs(ctx, app.Logger)
		time.Sleep(10 * time.Millisecond)
	}

	app.Logger.Info().Src("app").Msg("starting..")

	if err := app.recorder.StartCaching(0); err != nil {
		return fmt.Errorf("could not start caching: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.system.StatusLoop(ctx)
		return nil
	})
	g.Go(func() error {
		app.source.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return app.server.Run(ctx)
	})
	return g.Wait()
}

// Cancels the active recording and stops caching.
func (app *App) shutdown() {
	if session := app.cache.Session(); session != nil {
		app.Logger.Info().
			Src("app").
			Session(session.Token()).
			Msg("canceling active recording")
	}
	if err := app.recorder.StopCaching(true); err != nil {
		app.Logger.Error().Src("app").Msgf("could not stop caching: %v", err)
	}
	app.Logger.Info().Src("app").Msg("caching stopped")
}
