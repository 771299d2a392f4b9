package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"meshmon/internal/bus"
	"meshmon/internal/config"
	"meshmon/internal/logging"
	"meshmon/internal/monitor"
	"meshmon/internal/persistence"
	"meshmon/internal/radio"
	"meshmon/internal/stats"
	"meshmon/internal/status"
	"meshmon/internal/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run meshmond", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "meshmon.json", "config file path")
	connector := flag.String("connector", "", "transport override (tcp, serial, mqtt)")
	host := flag.String("host", "", "tcp host override")
	serialPort := flag.String("serial", "", "serial port override")
	dbPath := flag.String("db", "", "sqlite path override")
	logLevel := flag.String("log-level", "", "log level override")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg, *connector, *host, *serialPort, *dbPath, *logLevel)
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, "meshmon.log"); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("main")
	logger.Info("starting meshmond", "connector", cfg.Connection.Connector)

	tr, err := buildTransport(cfg.Connection)
	if err != nil {
		return err
	}

	messageBus := bus.New(logMgr.Logger("bus"))
	defer messageBus.Close()

	var (
		store  *persistence.Store
		writer *persistence.WriterQueue
	)
	if cfg.Store.Enabled {
		store, err = persistence.OpenStore(ctx, cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				logger.Warn("close store", "error", closeErr)
			}
		}()

		writer = persistence.NewWriterQueue(logMgr.Logger("writer"), cfg.Store.QueueCapacity)
		writer.Start(ctx)
		defer writer.Wait()
	}

	var statusCache *status.Cache
	if cfg.Status.Enabled {
		fetcher := status.NewHTTPFetcher(logMgr.Logger("status"), cfg.Status.Host, cfg.Status.Port)
		statusCache = status.NewCache(
			logMgr.Logger("status"),
			fetcher,
			time.Duration(cfg.Status.TTLSeconds)*time.Second,
			time.Duration(cfg.Status.GraceSeconds)*time.Second,
		)
	}

	nodeSampleInterval := time.Duration(cfg.Monitor.NodeSampleSeconds) * time.Second
	if cfg.Monitor.NodeSampleSeconds == config.NodeSampleEveryObservation {
		nodeSampleInterval = monitor.SampleEveryObservation
	}
	visibilityInterval := nodeSampleInterval
	if visibilityInterval <= 0 {
		visibilityInterval = monitor.DefaultNodeSampleInterval
	}
	statsEngine := stats.NewEngine(logMgr.Logger("stats"), store, visibilityInterval, stats.DefaultCacheTTL)

	supervisor := radio.NewSupervisor(logMgr.Logger("radio"), messageBus, tr, radio.NewJSONCodec())
	pipeline := monitor.NewPipeline(
		logMgr.Logger("monitor"),
		messageBus,
		supervisor,
		store,
		writer,
		statsEngine,
		statusCache,
		monitor.Options{
			LiveCapacity:         cfg.Monitor.LiveBufferCapacity,
			ObservedTTL:          time.Duration(cfg.Monitor.ObservedTTLHours) * time.Hour,
			NodeSampleInterval:   nodeSampleInterval,
			StatusSampleInterval: time.Duration(cfg.Monitor.StatusSampleSeconds) * time.Second,
			StatsWindowHours:     cfg.Monitor.StatsWindowHours,
		},
	)

	supervisor.Start(ctx)
	pipeline.Run(ctx)

	logger.Info("meshmond stopped")

	return nil
}

func applyOverrides(cfg *config.AppConfig, connector, host, serialPort, dbPath, logLevel string) {
	if v := strings.TrimSpace(connector); v != "" {
		cfg.Connection.Connector = config.ConnectorType(v)
	}
	if v := strings.TrimSpace(host); v != "" {
		cfg.Connection.Host = v
	}
	if v := strings.TrimSpace(serialPort); v != "" {
		cfg.Connection.SerialPort = v
		cfg.Connection.Connector = config.ConnectorSerial
	}
	if v := strings.TrimSpace(dbPath); v != "" {
		cfg.Store.Path = v
		cfg.Store.Enabled = true
	}
	if v := strings.TrimSpace(logLevel); v != "" {
		cfg.Logging.Level = v
	}
}

func buildTransport(cfg config.ConnectionConfig) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorTCP:
		return transport.NewTCPTransport(cfg.Host, cfg.Port), nil
	case config.ConnectorSerial:
		return transport.NewSerialTransport(cfg.SerialPort, cfg.SerialBaud), nil
	case config.ConnectorMQTT:
		return transport.NewMQTTTransport(transport.MQTTConfig{
			Host:      cfg.MQTT.Host,
			Port:      cfg.MQTT.Port,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			TLS:       cfg.MQTT.TLS,
			RootTopic: cfg.MQTT.RootTopic,
		}), nil
	default:
		return nil, fmt.Errorf("unknown connector: %s", cfg.Connector)
	}
}
