package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/hudlink/hudlink/internal/config"
	"github.com/hudlink/hudlink/internal/connection"
	"github.com/hudlink/hudlink/internal/control"
	"github.com/hudlink/hudlink/internal/database"
	"github.com/hudlink/hudlink/internal/influx"
	"github.com/hudlink/hudlink/internal/journal"
	"github.com/hudlink/hudlink/internal/logging"
	"github.com/hudlink/hudlink/internal/mapsim"
	"github.com/hudlink/hudlink/internal/monitor"
	intOtel "github.com/hudlink/hudlink/internal/otel"
	"github.com/hudlink/hudlink/internal/scheduler"
	"github.com/hudlink/hudlink/internal/telemetry"
	"github.com/hudlink/hudlink/internal/transport"
	"github.com/hudlink/hudlink/pkg/core"
)

// module defs - Version and BuildDate can be set at build time via ldflags
var (
	Version   string = "0.1.0"
	BuildDate string = "unknown"

	AppName string = "hudlink"
)

const (
	simPeriod       = 100 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	configDir := fs.String("config-dir", ".", "directory containing "+config.FileName)
	noConsole := fs.Bool("no-console", false, "do not read commands from stdin")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := config.BindFlags(fs); err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("%s %s (%s)\n", AppName, Version, BuildDate)
		return nil
	}

	sessionStart := time.Now()
	configErr := config.Load(*configDir)

	logsDir := config.GetString("logsDir")
	logLevel := config.GetString("logLevel")

	var logFile io.WriteCloser
	logFile, logPath, logErr := logging.OpenLogFile(logsDir, AppName, sessionStart)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "Logging to stdout: %v\n", logErr)
	} else {
		defer logFile.Close()
	}

	// OTel
	otelCfg := config.GetOTelConfig()
	otelProvider, err := intOtel.New(intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    logFile,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "otel shutdown: %v\n", err)
		}
	}()

	// slog, with live link attributes on every record
	var managerRef atomic.Pointer[connection.Manager]
	var extraHandlers []slog.Handler
	var gelfErr error
	if config.GetBool("graylog.enabled") {
		gh, err := logging.DialGELF(config.GetString("graylog.address"), logLevel)
		if err != nil {
			gelfErr = err
		} else {
			extraHandlers = append(extraHandlers, gh)
		}
	}

	slogManager := logging.NewSlogManager()
	slogManager.Context = func() []slog.Attr {
		m := managerRef.Load()
		if m == nil {
			return nil
		}
		return []slog.Attr{
			slog.String("link", m.State().String()),
			slog.String("endpoint", m.Endpoint().String()),
		}
	}
	slogManager.Setup(logFile, logLevel, otelProvider.LoggerProvider(), extraHandlers...)
	logger := slogManager.Logger()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = slogManager.Flush(ctx)
	}()

	logger.Info("Starting up", "version", Version, "build", BuildDate, "logFile", logPath)
	if configErr != nil {
		logger.Warn("Failed to load config, using defaults", "error", configErr)
	}
	if gelfErr != nil {
		logger.Warn("Graylog disabled", "error", gelfErr)
	}

	// zerolog for the background sinks
	var zlOut io.Writer = os.Stderr
	if logFile != nil {
		zlOut = logFile
	}
	zl := logging.NewZerolog(zlOut, logLevel)

	streamCfg, err := config.GetStreamConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// connection
	manager, err := connection.New(
		transport.NewFactory(config.GetTransportOptions()),
		connection.WithLogger(logger.With("component", "connection")),
		connection.WithSendQueue(config.GetSendQueue()),
	)
	if err != nil {
		return fmt.Errorf("connection manager: %w", err)
	}
	defer manager.Dispose()
	managerRef.Store(manager)

	// map + sensors
	simCfg, err := config.GetSimConfig()
	if err != nil {
		return err
	}
	sim, err := mapsim.New(simCfg)
	if err != nil {
		return err
	}
	aggregator := telemetry.NewAggregator(sim)
	detach := aggregator.Attach(sim)
	defer detach()

	sched, err := scheduler.New(manager, aggregator,
		scheduler.WithLogger(logger.With("component", "scheduler")),
	)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	unsubChanged := sim.OnItemsChanged(sched.Trigger)
	defer unsubChanged()

	// journal
	if jc := config.GetJournalConfig(); jc.Enabled {
		if j := openJournal(jc, streamCfg, logger, zl); j != nil {
			defer func() {
				if err := j.Close(); err != nil {
					logger.Error("Failed to close journal", "error", err)
				}
			}()
			defer manager.Subscribe(j)()
		}
	}

	// stats sink
	if ic := config.GetInfluxConfig(); ic.Enabled {
		backupDir := ic.BackupDir
		if backupDir == "" {
			backupDir = logsDir
		}
		backupPath := filepath.Join(backupDir,
			fmt.Sprintf("%s.%s.lp.gz", AppName, sessionStart.Format("20060102_150405")))

		sink := influx.NewSink(ic, zl)
		if err := sink.Connect(ctx, backupPath); err != nil {
			logger.Error("Stats sink disabled", "error", err)
		} else {
			defer sink.Close()
			defer manager.Subscribe(sink)()
			defer sched.Subscribe(sink)()
		}
	}

	// reconnect policy
	if rc := config.GetReconnectConfig(); rc.Enabled {
		policy := newReconnector(manager, rc.Delay, logger.With("component", "reconnect"))
		defer policy.Stop()
		defer manager.Subscribe(policy)()
	}

	if mc := config.GetMonitorConfig(); mc.Enabled {
		mon := monitor.NewService(monitor.Dependencies{
			Link:     manager,
			Stream:   sched,
			Path:     mc.StatusFile,
			Interval: mc.Interval,
			Logger:   logger.With("component", "monitor"),
		})
		mon.Start()
		defer mon.Stop()
	}

	manager.Subscribe(connection.ObserverFunc(func(c core.StateChange) {
		logger.Debug("Link state", "state", c.State.String(), "previous", c.Previous.String(), "reason", c.Reason())
	}))

	go sim.Run(ctx, simPeriod)

	sched.Start(streamCfg)
	if !streamCfg.Endpoint.IsZero() {
		if err := manager.Connect(streamCfg.Endpoint); err != nil {
			logger.Error("Connect failed", "endpoint", streamCfg.Endpoint.String(), "error", err)
		}
	} else {
		logger.Info("No device address configured, use the connect command")
	}

	// operator console
	if !*noConsole {
		dispatcher, err := control.NewDispatcher(logging.NewDispatcherLogger(zl))
		if err != nil {
			return fmt.Errorf("control dispatcher: %w", err)
		}
		defer dispatcher.Close()

		console := control.NewConsole(dispatcher, manager, sched, uint16(config.GetInt("stream.defaultPort")))
		go func() {
			if err := console.Run(ctx, os.Stdin, os.Stdout); err != nil {
				logger.Error("Console stopped", "error", err)
			}
			stop()
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down", "status", control.Status(manager, sched))

	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.DisconnectAndWait(shutdownCtx); err != nil {
		logger.Warn("Disconnect did not finish", "error", err)
	}
	return nil
}

func openJournal(cfg config.JournalConfig, streamCfg any, logger *slog.Logger, zl zerolog.Logger) *journal.Journal {
	db, local, err := database.Open(cfg, zl)
	if err != nil {
		logger.Error("Journal disabled", "error", err)
		return nil
	}

	j, err := journal.Open(db, journal.Options{
		Version: Version,
		Config:  streamCfg,
		Logger:  logger.With("component", "journal"),
	})
	if err != nil {
		logger.Error("Journal disabled", "error", err)
		return nil
	}
	logger.Info("Journal opened", "session", j.SessionID(), "local", local)
	return j
}
