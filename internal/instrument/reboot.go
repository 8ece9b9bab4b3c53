package instrument

import (
	"context"
	"fmt"

	"github.com/LivTel/moptop/internal/dispatch"
	"github.com/LivTel/moptop/internal/logging"
	"github.com/LivTel/moptop/internal/model"
	"github.com/LivTel/moptop/internal/peer"
)

func (in *Instrument) reboot(ctx context.Context, p model.RebootParams) model.AggregateResult {
	if !p.Level.Valid() {
		return model.Failure(model.ErrorCodeRebootLevel, fmt.Sprintf("REBOOT: illegal level %d", p.Level))
	}
	v := in.view()
	res := model.Success()
	res.Status = map[string]any{"level": p.Level.String(), "enabled": v.cfg.RebootEnabled(p.Level)}
	if !v.cfg.RebootEnabled(p.Level) {
		in.logger.Log(logging.LevelInfo, "REBOOT: level %s is disabled, ignoring", p.Level)
		return res
	}

	switch p.Level {
	case model.RebootNone:
	case model.RebootRedatum:
		if err := in.Reload(); err != nil {
			return v.agg.FromError("REBOOT", err, model.ErrorCodeRebootFailed)
		}
	case model.RebootSoftware:
		outcomes, err := dispatch.FanOut(ctx, v.coord, "REBOOT", v.endpoints,
			dispatch.Repeat(peer.CommandShutdown, len(v.endpoints)), plainCall(v.channel))
		if err != nil {
			return v.agg.FromError("REBOOT", err, model.ErrorCodeRebootFailed)
		}
		if agg := dispatch.Aggregate(v.agg, "REBOOT", outcomes, model.ErrorCodeRebootFailed, nil); !agg.Successful {
			return agg
		}
		in.exit(ExitSoftwareReboot)
	case model.RebootHardware, model.RebootPowerOff:
		in.exit(ExitHardwareReboot)
	}
	return res
}

func (in *Instrument) exit(code int) {
	if in.quit == nil {
		in.logger.Log(logging.LevelWarn, "REBOOT: no quit handler, exit code %d ignored", code)
		return
	}
	in.logger.Log(logging.LevelInfo, "REBOOT: exiting with code %d", code)
	in.quit(code)
}
