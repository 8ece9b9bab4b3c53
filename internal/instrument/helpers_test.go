package instrument

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LivTel/moptop/internal/events"
	"github.com/LivTel/moptop/internal/logging"
	"github.com/LivTel/moptop/internal/metrics"
	"github.com/LivTel/moptop/internal/model"
	"github.com/LivTel/moptop/internal/peer/peertest"
	"github.com/LivTel/moptop/internal/state"
)

type rig struct {
	in      *Instrument
	servers []*peertest.Server
	layers  []*peertest.CLayer
	store   *state.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	exits   chan int
	dir     string
}

func testConfig(servers []*peertest.Server) model.Config {
	cfg := model.Config{
		Instrument: model.InstrumentConfig{Name: "MOPTOP"},
		Dispatch: model.DispatchConfig{
			PollIntervalMs: 10,
			PeerTimeoutSec: 5,
		},
		Reboot: model.RebootConfig{Enable: map[string]bool{
			"NONE": true, "REDATUM": true, "SOFTWARE": true, "HARDWARE": true, "POWER_OFF": false,
		}},
	}
	for i, s := range servers {
		if i == 0 {
			cfg.Peers = append(cfg.Peers, s.PeerConfig(model.RoleRotator, model.RoleFilterWheel))
		} else {
			cfg.Peers = append(cfg.Peers, s.PeerConfig())
		}
	}
	cfg.ApplyDefaults()
	return cfg
}

func newRigWith(t *testing.T, handlers []peertest.Handler, mutate func(*model.Config)) *rig {
	t.Helper()
	r := &rig{exits: make(chan int, 4), dir: t.TempDir()}
	for _, h := range handlers {
		r.servers = append(r.servers, peertest.NewServer(t, h))
	}
	cfg := testConfig(r.servers)
	if mutate != nil {
		mutate(&cfg)
	}

	var err error
	r.store, err = state.Open(filepath.Join(r.dir, "state"))
	require.NoError(t, err)
	r.bus = events.NewBus(64)
	t.Cleanup(r.bus.Close)
	r.metrics = metrics.New()

	r.in, err = New(Options{
		Config:  cfg,
		State:   r.store,
		Bus:     r.bus,
		Metrics: r.metrics,
		Logger:  logging.Discard(),
		Quit:    func(code int) { r.exits <- code },
	})
	require.NoError(t, err)
	return r
}

// newRig starts n simulated C layers whose multrun numbers start at the given values.
func newRig(t *testing.T, multrunNumbers ...int) *rig {
	t.Helper()
	layers := make([]*peertest.CLayer, len(multrunNumbers))
	handlers := make([]peertest.Handler, len(multrunNumbers))
	for i, n := range multrunNumbers {
		layers[i] = peertest.NewCLayer(string(rune('a'+i)), n)
		handlers[i] = layers[i].Handle
	}
	r := newRigWith(t, handlers, nil)
	r.layers = layers
	return r
}

func verbs(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i], _, _ = strings.Cut(l, " ")
	}
	return out
}
