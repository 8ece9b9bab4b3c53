// Package daemon runs the moptop control layer as a long-lived process: it holds the
// single-instance lock, serves instrument commands on a unix socket, watches the
// config file and exposes metrics until a signal or REBOOT ends it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/LivTel/moptop/internal/events"
	"github.com/LivTel/moptop/internal/instrument"
	"github.com/LivTel/moptop/internal/lock"
	"github.com/LivTel/moptop/internal/logging"
	"github.com/LivTel/moptop/internal/metrics"
	"github.com/LivTel/moptop/internal/model"
	"github.com/LivTel/moptop/internal/peer"
	"github.com/LivTel/moptop/internal/state"
	"github.com/LivTel/moptop/internal/uds"
)

const eventBufferSize = 256

// Daemon is the main moptop daemon process.
type Daemon struct {
	configPath string
	config     model.Config
	logger     *logging.Logger
	logFile    io.Closer

	fileLock   *lock.FileLock
	server     *uds.Server
	socketPath string
	watcher    *fsnotify.Watcher

	bus           *events.Bus
	journal       *events.Journal
	detachJournal func()
	metrics       *metrics.Metrics
	metricsSrv    *metrics.Server
	store         *state.Store
	instrument    *instrument.Instrument

	// channel replaces the TCP peer channel when set.
	channel peer.Channel

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	shutdown    sync.Once
	cleanupOnce sync.Once
	ready       chan struct{}

	exitCode  atomic.Int32
	forceExit atomic.Bool
}

// New creates a daemon for the config loaded from configPath. Log lines go to
// logging.file when set, otherwise to stderr.
func New(configPath string, cfg model.Config) (*Daemon, error) {
	if cfg.Logging.File == "" {
		return newDaemon(configPath, cfg, os.Stderr, nil)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	return newDaemon(configPath, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(configPath string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	cfg.ApplyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.New(w, logging.ParseLevel(cfg.Logging.Level))

	socketPath := cfg.Daemon.SocketPath
	if socketPath == "" {
		socketPath = filepath.Join(cfg.Daemon.StateDir, uds.DefaultSocketName)
	}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
	}

	d := &Daemon{
		configPath: configPath,
		config:     cfg,
		logger:     logger.With("daemon"),
		logFile:    closer,
		fileLock:   lock.NewFileLock(filepath.Join(cfg.Daemon.StateDir, "locks", "daemon.lock")),
		server:     uds.NewServer(socketPath, logger),
		socketPath: socketPath,
		bus:        events.NewBus(eventBufferSize),
		metrics:    metrics.New(),
		ctx:        ctx,
		cancel:     cancel,
		ready:      make(chan struct{}),
	}
	d.server.SetConnTimeout(time.Duration(cfg.Dispatch.PeerTimeoutSec) * time.Second)
	return d, nil
}

// SocketPath is where the daemon accepts commands.
func (d *Daemon) SocketPath() string {
	return d.socketPath
}

// Ready is closed once the socket server accepts commands.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// ExitCode is the process exit status requested by REBOOT, or 0.
func (d *Daemon) ExitCode() int {
	return int(d.exitCode.Load())
}

// Instrument exposes the command layer, available after Run has started it.
func (d *Daemon) Instrument() *instrument.Instrument {
	return d.instrument
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Step 1: Acquire file lock
	if err := os.MkdirAll(filepath.Join(d.config.Daemon.StateDir, "locks"), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logger.Log(logging.LevelInfo, "daemon starting pid=%d peers=%d", os.Getpid(), len(d.config.Peers))

	// Step 2: Persistent state and command journal
	store, err := state.Open(d.config.Daemon.StateDir)
	if err != nil {
		return d.abortStart(err)
	}
	d.store = store
	if r := store.Recovery(); r != "" {
		d.logger.Log(logging.LevelWarn, "state recovery: %s", r)
	}

	journalPath := d.config.Journal.Path
	if journalPath == "" {
		journalPath = filepath.Join(d.config.Daemon.StateDir, "journal", "commands.jsonl")
	}
	d.journal, err = events.NewJournal(journalPath, d.config.Journal.MaxBytes)
	if err != nil {
		return d.abortStart(err)
	}
	d.detachJournal = d.journal.Attach(d.bus, func(err error) {
		d.logger.Log(logging.LevelError, "journal write error=%v", err)
	})

	// Step 3: Command layer
	d.instrument, err = instrument.New(instrument.Options{
		Config:     d.config,
		ConfigPath: d.configPath,
		Channel:    d.channel,
		State:      d.store,
		Bus:        d.bus,
		Metrics:    d.metrics,
		Logger:     d.logger,
		Quit:       d.quit,
	})
	if err != nil {
		return d.abortStart(fmt.Errorf("init instrument: %w", err))
	}

	// Step 4: Watch the config file for changes
	if d.configPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return d.abortStart(fmt.Errorf("create fsnotify watcher: %w", err))
		}
		d.watcher = watcher
		// Editors replace files by rename, so the directory is watched.
		if err := watcher.Add(filepath.Dir(d.configPath)); err != nil {
			return d.abortStart(fmt.Errorf("watch %s: %w", d.configPath, err))
		}
		d.wg.Add(1)
		go d.fsnotifyLoop()
	}

	// Step 5: Metrics listener
	if d.config.Metrics.Listen != "" {
		srv, err := metrics.Listen(d.config.Metrics.Listen, d.metrics, d.healthy, d.logger)
		if err != nil {
			return d.abortStart(err)
		}
		d.metricsSrv = srv
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			srv.Serve()
		}()
	}

	// Step 6: Register handlers and start the socket server
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		return d.abortStart(fmt.Errorf("start UDS server: %w", err))
	}
	d.logger.Log(logging.LevelInfo, "UDS server listening on %s", d.socketPath)
	close(d.ready)
	d.logger.Log(logging.LevelInfo, "daemon ready")

	// Step 7: Wait for signals or a REBOOT
	d.waitSignals()

	return nil
}

// abortStart undoes a partial Run.
func (d *Daemon) abortStart(err error) error {
	d.cancel()
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	if d.metricsSrv != nil {
		_ = d.metricsSrv.Shutdown(context.Background())
	}
	d.wg.Wait()
	d.cleanup()
	return err
}

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(_ context.Context, _ *uds.Request, _ uds.AckFunc) *uds.Response {
		return uds.SuccessResponse(map[string]any{
			"status":          "ok",
			"pid":             os.Getpid(),
			"current_command": string(d.instrument.CurrentCommand()),
			"reload_pending":  d.instrument.ReloadPending(),
		})
	})

	d.server.Handle("shutdown", func(_ context.Context, _ *uds.Request, _ uds.AckFunc) *uds.Response {
		d.logger.Log(logging.LevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	for _, kind := range model.CommandKinds {
		d.server.Handle(string(kind), d.handleCommand(kind))
	}
}

// handleCommand decodes the parameters, acknowledges with the expected time to
// complete, then runs the command. The done frame carries the AggregateResult.
func (d *Daemon) handleCommand(kind model.CommandKind) uds.HandlerFunc {
	return func(ctx context.Context, req *uds.Request, ack uds.AckFunc) *uds.Response {
		params, err := instrument.DecodeParams(kind, req.Params)
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
		}
		if err := ack(d.instrument.AcknowledgeTime(kind, params)); err != nil {
			d.logger.Log(logging.LevelWarn, "%s: acknowledge failed: %v", kind.Upper(), err)
		}
		res := d.instrument.Execute(ctx, kind, params)
		return uds.ResultResponse(res.Successful, res)
	}
}

// fsnotifyLoop marks a reload as pending when the config file changes.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != d.configPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				d.logger.Log(logging.LevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				d.instrument.MarkReloadPending()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Log(logging.LevelError, "fsnotify error=%v", err)
		}
	}
}

func (d *Daemon) healthy() error {
	if d.ctx.Err() != nil {
		return errors.New("shutting down")
	}
	return nil
}

// quit is the REBOOT exit path. Shutdown runs asynchronously so the REBOOT
// handler can still write its done frame.
func (d *Daemon) quit(code int) {
	d.exitCode.Store(int32(code))
	go d.Shutdown()
}

// waitSignals blocks until a shutdown signal is received or shutdown starts elsewhere.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Log(logging.LevelInfo, "received signal=%s, initiating graceful shutdown", sig)
	case <-d.ctx.Done():
	}

	// Second signal → force exit
	go func() {
		if _, ok := <-sigCh; ok {
			d.logger.Log(logging.LevelWarn, "received second signal, forcing exit")
			d.forceExit.Store(true)
			os.Exit(1)
		}
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Log(logging.LevelInfo, "shutdown started")

		// 1. Cancel context; running commands see it through their handler context
		d.cancel()

		// 2. Stop producers
		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		if d.server != nil {
			_ = d.server.Stop()
		}

		timeout := time.Duration(d.config.Daemon.ShutdownTimeoutSec) * time.Second
		if d.metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := d.metricsSrv.Shutdown(ctx); err != nil {
				d.logger.Log(logging.LevelWarn, "metrics shutdown: %v", err)
			}
			cancel()
		}

		// 3. Drain background loops with timeout
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.logger.Log(logging.LevelInfo, "all goroutines drained")
		case <-time.After(timeout):
			d.logger.Log(logging.LevelWarn, "shutdown timeout after %s, some operations may be incomplete", timeout)
		}

		// 4. Cleanup
		d.cleanup()
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	d.cleanupOnce.Do(d.release)
}

func (d *Daemon) release() {
	if d.detachJournal != nil {
		d.detachJournal()
	}
	d.bus.Close()
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Log(logging.LevelWarn, "close journal: %v", err)
		}
	}
	_ = os.Remove(d.socketPath)
	_ = d.fileLock.Unlock()
	d.logger.Log(logging.LevelInfo, "daemon stopped exit_code=%d", d.ExitCode())
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}
