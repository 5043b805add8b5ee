package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/itohio/heatpress/pkg/checkpoint"
	"github.com/itohio/heatpress/pkg/config"
	"github.com/itohio/heatpress/pkg/control"
	"github.com/itohio/heatpress/pkg/device"
	"github.com/itohio/heatpress/pkg/press"
	"github.com/itohio/heatpress/pkg/sample"
	"github.com/itohio/heatpress/pkg/storage"
	"github.com/itohio/heatpress/pkg/thermal"
)

func main() {
	var (
		portFlag     = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag     = flag.Bool("mock", false, "Use simulated press head instead of serial port")
		logLevelFlag = flag.String("log-level", "", "Log level override (trace, debug, info, warn, error)")
		portsFlag    = flag.Bool("ports", false, "List serial ports and exit")
		writeFlag    = flag.Bool("write-config", false, "Write the effective configuration to -config and exit")
	)
	flag.Parse()

	if *portsFlag {
		ports, err := device.Ports()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p.Name)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override serial port if provided via command line
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *logLevelFlag != "" {
		cfg.Log.Level = *logLevelFlag
	}

	if *writeFlag {
		if err := cfg.Save(*configFlag); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("configuration written to %s\n", *configFlag)
		return
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "heatpress",
		Output: os.Stderr,
		Level:  hclog.LevelFromString(cfg.Log.Level),
	})

	if err := run(cfg, *mockFlag, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, useMock bool, logger hclog.Logger) error {
	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	var head device.Head
	if useMock {
		head = device.NewMock(&cfg.Mock, logger)
		logger.Info("using simulated press head")
	} else {
		head = device.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.StaleAfter, logger)
	}
	if err := head.Connect(); err != nil {
		return fmt.Errorf("failed to connect to press head: %w", err)
	}
	defer head.Close()
	if !useMock {
		logger.Info("connected to press head", "port", cfg.Serial.Port, "baud", cfg.Serial.BaudRate)
	}

	coord := checkpoint.New(store, checkpoint.Options{
		Interval:     cfg.Control.CheckpointInterval,
		WriteTimeout: cfg.Control.WriteTimeout,
		Logger:       logger,
	})

	clock := press.SystemClock{}
	ctrl, err := control.New(control.Options{
		Settings: coord.LoadSettings(cfg.Press),
		Actuator: head,
		Reader: sample.NewReader(head, sample.Options{
			Timeout:        cfg.Control.SensorTimeout,
			MaxFaults:      cfg.Control.MaxSensorFaults,
			AverageSamples: cfg.Control.AverageSamples,
		}),
		Checkpointer: coord,
		Watchdog:     thermal.New(cfg.Safety),
		Config:       cfg.Control,
		Logger:       logger,
		Clock:        clock,
	})
	if err != nil {
		return err
	}

	if ctrl.Recover(clock.Now()) {
		logger.Info("previous print run restored; use 'status' to inspect it")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	con := &console{ctrl: ctrl, clock: clock, out: os.Stdout}
	go func() {
		con.serve(ctx, os.Stdin)
		cancel()
	}()

	return ctrl.Run(ctx)
}

type closableStore interface {
	checkpoint.Store
	io.Closer
}

// openStore opens the configured checkpoint storage.
func openStore(cfg config.StorageConfig) (closableStore, error) {
	switch cfg.Driver {
	case config.StorageFile:
		return storage.NewFile(cfg.Path)
	case config.StorageBolt:
		return storage.NewBolt(cfg.Path)
	case config.StorageMemory:
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
