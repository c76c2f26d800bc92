package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"enginemanager/src/database"
	"enginemanager/src/engine"
	"enginemanager/src/notify"
	"enginemanager/src/server"
)

var APP_NAME = os.Getenv("APP_NAME")

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	engineCfg := engine.GetConfig()
	factory := func(projectID, name string) engine.EngineClient {
		return engine.NewClient(projectID, name, engineCfg)
	}

	registry := engine.NewRegistry(database.MainDB, factory, engineCfg)
	notifier := notify.NewNotifier(notify.GetConfig())
	supervisor := engine.NewSupervisor(registry, database.MainDB, notifier, engineCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
		cancel()
	}()

	go supervisor.Run(ctx)

	srv := server.NewServer(registry, database.MainDB, server.GetConfig())
	srv.Run(ctx)
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
