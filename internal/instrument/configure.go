package instrument

import (
	"context"
	"fmt"

	"github.com/LivTel/moptop/internal/dispatch"
	"github.com/LivTel/moptop/internal/logging"
	"github.com/LivTel/moptop/internal/model"
	"github.com/LivTel/moptop/internal/peer"
)

// configure sends binning, filter and rotor speed to every peer in that order, then
// allocates a new config id.
func (in *Instrument) configure(ctx context.Context, p model.ConfigParams) model.AggregateResult {
	switch {
	case p.XBin != p.YBin:
		return model.Failure(model.ErrorCodeConfigBinning,
			fmt.Sprintf("CONFIG: MOPTOP only supports square binning: x bin %d, y bin %d", p.XBin, p.YBin))
	case p.XBin <= 0:
		return model.Failure(model.ErrorCodeConfigBinning, fmt.Sprintf("CONFIG: illegal binning %d", p.XBin))
	case p.RotorSpeed != model.RotorSpeedSlow && p.RotorSpeed != model.RotorSpeedFast:
		return model.Failure(model.ErrorCodeConfigRotorSpeed, fmt.Sprintf("CONFIG: illegal rotor speed %q", p.RotorSpeed))
	case p.FilterName == "":
		return model.Failure(model.ErrorCodeBadRequest, "CONFIG: filter name is required")
	}
	in.logger.Log(logging.LevelInfo, "CONFIG: id=%s filter=%s rotor_speed=%s bin=%d", p.Name, p.FilterName, p.RotorSpeed, p.XBin)

	v := in.view()
	steps := []string{
		peer.ConfigBin(p.XBin),
		peer.ConfigFilter(p.FilterName),
		peer.ConfigRotorspeed(p.RotorSpeed),
	}
	for _, command := range steps {
		if err := in.abort.Check(); err != nil {
			return v.agg.FromError("CONFIG", err, model.ErrorCodeConfigPeer)
		}
		outcomes, err := dispatch.FanOut(ctx, v.coord, "CONFIG", v.endpoints,
			dispatch.Repeat(command, len(v.endpoints)), plainCall(v.channel))
		if err != nil {
			return v.agg.FromError("CONFIG", err, model.ErrorCodeConfigPeer)
		}
		if res := dispatch.Aggregate(v.agg, "CONFIG", outcomes, model.ErrorCodeConfigPeer, nil); !res.Successful {
			return res
		}
	}
	if err := in.abort.Check(); err != nil {
		return v.agg.FromError("CONFIG", err, model.ErrorCodeConfigPeer)
	}

	id, err := in.state.IncConfigID(p.Name)
	if err != nil {
		return v.agg.FromError("CONFIG", err, model.ErrorCodeConfigState)
	}
	res := model.Success()
	res.Status = map[string]any{"config_id": id, "config_name": p.Name}
	return res
}
