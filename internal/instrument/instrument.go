// Package instrument implements the MOPTOP instrument commands on top of the
// multi-peer dispatch layer. Execute and RequestAbort are its upward contract.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/LivTel/moptop/internal/dispatch"
	"github.com/LivTel/moptop/internal/events"
	"github.com/LivTel/moptop/internal/logging"
	"github.com/LivTel/moptop/internal/metrics"
	"github.com/LivTel/moptop/internal/model"
	"github.com/LivTel/moptop/internal/peer"
	"github.com/LivTel/moptop/internal/state"
)

// Exit codes requested through Options.Quit by REBOOT.
const (
	ExitSoftwareReboot = 0
	ExitHardwareReboot = 127
)

type Options struct {
	Config model.Config
	// ConfigPath is re-read by REBOOT REDATUM. Empty disables reloading.
	ConfigPath string
	// Channel overrides the TCP peer channel built from the configuration.
	Channel peer.Channel
	State   *state.Store
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Logger  *logging.Logger
	// Quit is called by REBOOT levels that end the process. It must not block.
	Quit func(exitCode int)
}

// view is the configuration-derived part of the instrument. It is replaced as a
// whole by REDATUM and read without locks by running commands.
type view struct {
	cfg         model.Config
	endpoints   []model.PeerEndpoint
	channel     peer.Channel
	coord       *dispatch.Coordinator
	statusCoord *dispatch.Coordinator
	agg         *dispatch.Aggregator
	reconciler  *dispatch.Reconciler
}

type Instrument struct {
	configPath      string
	channelOverride peer.Channel

	current atomic.Pointer[view]
	abort   *dispatch.AbortSignal
	busy    sync.Mutex
	running atomic.Value // model.CommandKind

	reloadPending atomic.Bool
	statusGroup   singleflight.Group

	state   *state.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *logging.Logger
	quit    func(int)
	started time.Time
}

func New(opts Options) (*Instrument, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.State == nil {
		return nil, errors.New("instrument: state store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	in := &Instrument{
		configPath:      opts.ConfigPath,
		channelOverride: opts.Channel,
		abort:           dispatch.NewAbortSignal(),
		state:           opts.State,
		bus:             opts.Bus,
		metrics:         opts.Metrics,
		logger:          logger.With("instrument"),
		quit:            opts.Quit,
		started:         time.Now(),
	}
	in.running.Store(model.CommandKind(""))
	in.apply(opts.Config)
	return in, nil
}

func (in *Instrument) apply(cfg model.Config) {
	ch := in.channelOverride
	if ch == nil {
		ch = metrics.NewChannel(peer.NewTCPChannel(cfg.PeerTimeout()), in.metrics)
	}
	v := &view{
		cfg:         cfg,
		endpoints:   cfg.Endpoints(),
		channel:     ch,
		coord:       dispatch.NewCoordinator(in.abort, cfg.PollInterval(), in.logger),
		statusCoord: dispatch.NewCoordinator(nil, cfg.PollInterval(), in.logger),
		agg:         dispatch.NewAggregator(in.logger, cfg.PrimaryPeerIndex),
	}
	v.reconciler = dispatch.NewReconciler(v.coord, multrunSetup{channel: ch}, cfg.Dispatch.ReconcileMaxAttempts, in.logger)
	v.reconciler.OnAdvance = in.metrics.ObserveAdvance
	in.current.Store(v)
}

func (in *Instrument) view() *view {
	return in.current.Load()
}

// Config returns the configuration currently in effect.
func (in *Instrument) Config() model.Config {
	return in.view().cfg
}

// CurrentCommand is the non-interrupt command executing now, or "".
func (in *Instrument) CurrentCommand() model.CommandKind {
	return in.running.Load().(model.CommandKind)
}

func (in *Instrument) AbortState() dispatch.AbortState {
	return in.abort.State()
}

// Execute runs one instrument command to completion and returns its aggregate result.
// Only one non-interrupt command runs at a time; a second one is rejected as busy.
// ABORT and GET_STATUS run alongside it and never arm the abort signal.
func (in *Instrument) Execute(ctx context.Context, kind model.CommandKind, params any) model.AggregateResult {
	if !kind.Valid() {
		return model.Failure(model.ErrorCodeBadRequest, fmt.Sprintf("unknown command %q", kind))
	}
	label := kind.Upper()

	if !kind.Interrupt() {
		if !in.busy.TryLock() {
			msg := fmt.Sprintf("Command %s rejected: %s in progress.", label, in.CurrentCommand().Upper())
			in.logger.Log(logging.LevelWarn, "%s", msg)
			return model.Failure(model.ErrorCodeBusy, msg)
		}
		defer in.busy.Unlock()
		in.abort.Arm()
		defer in.abort.Disarm()
		in.running.Store(kind)
		defer in.running.Store(model.CommandKind(""))
		in.metrics.SetInProgress(true)
		defer in.metrics.SetInProgress(false)
	}

	v := in.view()
	if v.cfg.Dispatch.DeadlineEnabled && kind != model.CommandAbort {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.AcknowledgeTime(kind, params)+v.cfg.DeadlineSlack())
		defer cancel()
	}

	start := time.Now()
	in.logger.Log(logging.LevelInfo, "%s: started", label)
	in.bus.Publish(events.EventCommandStarted, map[string]any{"command": label, "params": params})

	res := in.run(ctx, kind, params)

	elapsed := time.Since(start)
	if res.Successful {
		in.logger.Log(logging.LevelInfo, "%s: completed elapsed=%s", label, elapsed.Round(time.Millisecond))
	} else {
		in.logger.Log(logging.LevelWarn, "%s: failed elapsed=%s error_num=%d: %s",
			label, elapsed.Round(time.Millisecond), res.ErrorNum, res.ErrorString)
	}
	in.bus.Publish(events.EventCommandCompleted, map[string]any{
		"command":      label,
		"successful":   res.Successful,
		"error_num":    res.ErrorNum,
		"error_string": res.ErrorString,
		"filename":     res.Filename,
		"elapsed_ms":   elapsed.Milliseconds(),
	})
	in.metrics.ObserveCommand(kind, res, elapsed)
	return res
}

func (in *Instrument) run(ctx context.Context, kind model.CommandKind, params any) model.AggregateResult {
	switch kind {
	case model.CommandConfig:
		if p, ok := paramsAs[model.ConfigParams](params); ok {
			return in.configure(ctx, p)
		}
	case model.CommandMultrun:
		if p, ok := paramsAs[model.MultrunParams](params); ok {
			return in.multrun(ctx, p)
		}
	case model.CommandMultdark:
		if p, ok := paramsAs[model.MultdarkParams](params); ok {
			return in.multdark(ctx, p)
		}
	case model.CommandMultbias:
		if p, ok := paramsAs[model.MultbiasParams](params); ok {
			return in.multbias(ctx, p)
		}
	case model.CommandDark:
		if p, ok := paramsAs[model.DarkParams](params); ok {
			return in.dark(ctx, p)
		}
	case model.CommandBias:
		if _, ok := paramsAs[model.BiasParams](params); ok {
			return in.bias(ctx)
		}
	case model.CommandAbort:
		if _, ok := paramsAs[model.AbortParams](params); ok {
			return in.RequestAbort(ctx)
		}
	case model.CommandGetStatus:
		if p, ok := paramsAs[model.GetStatusParams](params); ok {
			return in.getStatus(ctx, p)
		}
	case model.CommandReboot:
		if p, ok := paramsAs[model.RebootParams](params); ok {
			return in.reboot(ctx, p)
		}
	}
	return model.Failure(model.ErrorCodeBadRequest,
		fmt.Sprintf("%s: unexpected parameters of type %T", kind.Upper(), params))
}

// paramsAs accepts T, *T or nil (the zero T).
func paramsAs[T any](params any) (T, bool) {
	var zero T
	switch p := params.(type) {
	case nil:
		return zero, true
	case T:
		return p, true
	case *T:
		if p == nil {
			return zero, true
		}
		return *p, true
	}
	return zero, false
}

// ReloadPending reports a config file change not yet applied by REBOOT REDATUM.
func (in *Instrument) ReloadPending() bool {
	return in.reloadPending.Load()
}

// MarkReloadPending records that the config file changed on disk.
func (in *Instrument) MarkReloadPending() {
	if in.reloadPending.Swap(true) {
		return
	}
	in.metrics.SetReloadPending(true)
	in.logger.Log(logging.LevelInfo, "config file %s changed; REBOOT REDATUM will apply it", in.configPath)
	in.bus.Publish(events.EventConfigChanged, map[string]any{"path": in.configPath})
}

// Reload re-reads the config file and swaps in new endpoints and tunables.
// It is only called from REBOOT REDATUM, which holds the busy lock.
func (in *Instrument) Reload() error {
	if in.configPath == "" {
		return errors.New("no config file to reload")
	}
	cfg, err := model.LoadConfig(in.configPath)
	if err != nil {
		return fmt.Errorf("reload %s: %w", in.configPath, err)
	}
	in.apply(cfg)
	in.reloadPending.Store(false)
	in.metrics.SetReloadPending(false)
	in.logger.Log(logging.LevelInfo, "configuration reloaded peers=%d primary=%d", len(cfg.Peers), cfg.PrimaryPeerIndex)
	in.bus.Publish(events.EventConfigReloaded, map[string]any{"path": in.configPath, "peers": len(cfg.Peers)})
	return nil
}
