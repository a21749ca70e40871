package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"i4.energy/across/obdgw/adapter"
	"i4.energy/across/obdgw/autopid"
	"i4.energy/across/obdgw/eval"
	"i4.energy/across/obdgw/publish"
)

func main() {
	configFile := flag.String("config", "/etc/obdgw/config.yaml", "Path to the YAML configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port of the ELM327 adapter")
	flag.Int("baud-rate", 38400, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP status server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.String("mqtt-client-id", "obdgw", "MQTT client ID")
	flag.String("status-topic", "obdgw/status", "Topic for ECU online/offline notifications")
	flag.String("result-topic", "obdgw/rx", "Default topic for signal results")
	flag.String("autopid-config", "/etc/obdgw/autopid.json", "Path to the JSON polling document")
	flag.String("record-dir", "/var/lib/obdgw/records", "Directory for file kind signal records")
	flag.Parse()

	if path := os.Getenv("CONFIG_FILE"); path != "" && !isFlagSet(flag.CommandLine, "config") {
		*configFile = path
	}

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pids, err := autopid.LoadFile(config.AutoPIDConfig)
	if err != nil {
		// Keep running: with no signals the worker idles and the API stays up.
		logger.Error("Failed to load polling configuration", "path", config.AutoPIDConfig, "error", err)
	}
	logger.Info("Loaded polling configuration", "signals", len(pids.Signals))

	adapterConfig, err := adapter.NewConfigBuilder().
		WithDialer(adapter.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		WithResponseQueue(10).
		WithDeliveryTimeout(time.Second).
		WithLogger(logger.With("component", "adapter")).
		Build()
	if err != nil {
		logger.Error("Failed to create adapter config", "error", err)
		os.Exit(1)
	}

	elm, err := adapter.New(ctx, adapterConfig)
	if err != nil {
		logger.Error("Failed to open adapter", "port", config.SerialPort, "error", err)
		os.Exit(1)
	}

	loopFailed := make(chan struct{})
	go func() {
		if err := elm.Loop(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Adapter read loop stopped", "error", err)
			close(loopFailed)
			stop()
		}
	}()

	broker, err := publish.NewMQTT(publish.MQTTConfig{
		Broker:      config.MQTTBroker,
		ClientID:    config.MQTTClientID,
		Username:    config.MQTTUsername,
		Password:    config.MQTTPassword,
		StatusTopic: config.StatusTopic,
	}, logger.With("component", "mqtt"))
	if err != nil {
		logger.Error("Failed to create MQTT publisher", "error", err)
		os.Exit(1)
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
	if err := broker.Connect(connectCtx); err != nil {
		logger.Warn("MQTT not connected yet, retrying in background", "broker", config.MQTTBroker, "error", err)
	}
	cancelConnect()

	hub := NewHub(logger.With("component", "websocket"))

	worker, err := autopid.New(autopid.Options{
		Transceiver: elm,
		Responses:   elm.Responses(),
		Publisher:   observedPublisher{Publisher: broker, hub: hub},
		Evaluator:   eval.New(),
		Recorder:    publish.NewFileSink(config.RecordDir),
		Config:      pids,
		StatusTopic: config.StatusTopic,
		ResultTopic: config.ResultTopic,
		Logger:      logger.With("component", "autopid"),
	})
	if err != nil {
		logger.Error("Failed to create polling worker", "error", err)
		os.Exit(1)
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Polling worker stopped", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger: logger.With("component", "server"),
			Worker: worker,
			Broker: broker,
			Hub:    hub,
		},
	}

	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	<-workerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
	}

	logger.Info("Closing MQTT connection")
	broker.Close()

	logger.Info("Closing adapter connection")
	if err := elm.Close(); err != nil {
		logger.Error("Failed to close adapter", "error", err)
	}

	select {
	case <-loopFailed:
		os.Exit(1)
	default:
	}
}

func isFlagSet(fSet *flag.FlagSet, name string) bool {
	set := false
	fSet.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
