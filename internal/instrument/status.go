package instrument

import (
	"context"
	"fmt"
	"maps"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/LivTel/moptop/internal/dispatch"
	"github.com/LivTel/moptop/internal/model"
	"github.com/LivTel/moptop/internal/peer"
)

// statusQuery is one "status <subsystem> <item>" exchange. store parses the payload
// into out under the query's own keys.
type statusQuery struct {
	command string
	store   func(payload string, out map[string]any) error
}

func intItem(key string) func(string, map[string]any) error {
	return func(payload string, out map[string]any) error {
		n, err := peer.ParseInt(payload)
		if err != nil {
			return err
		}
		out[key] = n
		return nil
	}
}

func floatItem(key string) func(string, map[string]any) error {
	return func(payload string, out map[string]any) error {
		f, err := peer.ParseFloat(payload)
		if err != nil {
			return err
		}
		out[key] = f
		return nil
	}
}

func boolItem(key string) func(string, map[string]any) error {
	return func(payload string, out map[string]any) error {
		b, err := peer.ParseBool(payload)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}
}

func stringItem(key string) func(string, map[string]any) error {
	return func(payload string, out map[string]any) error {
		out[key] = payload
		return nil
	}
}

func temperatureItem(payload string, out map[string]any) error {
	t, err := peer.ParseTemperatureReply(payload)
	if err != nil {
		return err
	}
	out["temperature"] = t.Celsius
	out["temperature_timestamp"] = t.Timestamp
	return nil
}

var exposureQueries = []statusQuery{
	{peer.Status("exposure", "status"), boolItem("exposure_status")},
	{peer.Status("exposure", "count"), intItem("exposure_count")},
	{peer.Status("exposure", "length"), intItem("exposure_length")},
	{peer.Status("exposure", "index"), intItem("exposure_index")},
	{peer.Status("exposure", "multrun"), intItem("multrun_number")},
	{peer.Status("exposure", "run"), intItem("run_number")},
	{peer.Status("exposure", "window"), intItem("window_number")},
}

var temperatureQueries = []statusQuery{
	{peer.Status("temperature", "get"), temperatureItem},
}

var rotatorQueries = []statusQuery{
	{peer.Status("rotator", "position"), floatItem("rotator_position")},
	{peer.Status("rotator", "speed"), stringItem("rotator_speed")},
	{peer.Status("rotator", "status"), stringItem("rotator_status")},
}

var filterWheelQueries = []statusQuery{
	{peer.Status("filterwheel", "filter"), stringItem("filter_wheel_filter")},
	{peer.Status("filterwheel", "position"), intItem("filter_wheel_position")},
	{peer.Status("filterwheel", "status"), stringItem("filter_wheel_status")},
}

// statusCall runs a peer's queries one after another. On failure the values gathered
// so far are still returned with the error.
func statusCall(ch peer.Channel) dispatch.CallFunc[[]statusQuery, map[string]any] {
	return func(ctx context.Context, ep model.PeerEndpoint, queries []statusQuery) (map[string]any, error) {
		out := make(map[string]any, len(queries)+1)
		for _, q := range queries {
			payload, err := peer.Call(ctx, ch, ep, q.command)
			if err != nil {
				return out, err
			}
			if err := q.store(payload, out); err != nil {
				return out, &peer.ProtocolError{Endpoint: ep, Command: q.command, Code: peer.ParseFailure, Message: err.Error()}
			}
		}
		return out, nil
	}
}

// getStatus answers GET_STATUS. Concurrent requests for the same level share one round
// of peer queries.
func (in *Instrument) getStatus(ctx context.Context, p model.GetStatusParams) model.AggregateResult {
	if p.Level < model.StatusLevelBasic || p.Level > model.StatusLevelFull {
		return model.Failure(model.ErrorCodeBadRequest, fmt.Sprintf("GET_STATUS: illegal level %d", p.Level))
	}
	v, _, _ := in.statusGroup.Do(strconv.Itoa(int(p.Level)), func() (any, error) {
		return in.collectStatus(ctx, p.Level), nil
	})
	res := v.(model.AggregateResult)
	res.Status = maps.Clone(res.Status)
	return res
}

func (in *Instrument) collectStatus(ctx context.Context, level model.StatusLevel) model.AggregateResult {
	v := in.view()
	snap := in.state.Snapshot()

	status := map[string]any{
		"instrument":          v.cfg.Instrument.Name,
		"current_command":     string(in.CurrentCommand()),
		"abort_state":         in.abort.State().String(),
		"config_id":           snap.ConfigID,
		"config_name":         snap.ConfigName,
		"last_multrun_number": snap.LastMultrunNumber,
		"last_filename":       snap.LastFilename,
		"reload_pending":      in.reloadPending.Load(),
		"peer_count":          len(v.endpoints),
		"primary_peer":        v.cfg.PrimaryPeerIndex,
	}
	for _, ep := range v.endpoints {
		status[fmt.Sprintf("peer.%d.address", ep.Index)] = ep.Address()
	}

	rotatorPeer := v.cfg.RolePeer(model.RoleRotator)
	filterWheelPeer := v.cfg.RolePeer(model.RoleFilterWheel)
	reqs := make([][]statusQuery, len(v.endpoints))
	for i, ep := range v.endpoints {
		qs := append([]statusQuery(nil), exposureQueries...)
		if level >= model.StatusLevelIntermediate {
			qs = append(qs, temperatureQueries...)
			if ep.Index == rotatorPeer {
				qs = append(qs, rotatorQueries...)
			}
			if ep.Index == filterWheelPeer {
				qs = append(qs, filterWheelQueries...)
			}
		}
		reqs[i] = qs
	}

	if level >= model.StatusLevelFull {
		status["log_level"] = in.logger.Level().String()
		status["uptime_seconds"] = int64(time.Since(in.started).Seconds())
		status["pid"] = os.Getpid()
		status["goroutines"] = runtime.NumGoroutine()
		status["go_version"] = runtime.Version()
	}

	outcomes, err := dispatch.FanOut(ctx, v.statusCoord, "GET_STATUS", v.endpoints, reqs, statusCall(v.channel))
	if err != nil {
		res := v.agg.FromError("GET_STATUS", err, model.ErrorCodeStatus)
		res.Status = status
		return res
	}
	for _, o := range outcomes {
		for k, val := range o.Value {
			status[fmt.Sprintf("peer.%d.%s", o.PeerIndex, k)] = val
		}
		if o.PeerIndex == v.cfg.PrimaryPeerIndex {
			maps.Copy(status, o.Value)
		}
	}

	res := dispatch.Aggregate(v.agg, "GET_STATUS", outcomes, model.ErrorCodeStatus, nil)
	res.Status = status
	return res
}
