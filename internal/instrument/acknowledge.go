package instrument

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/LivTel/moptop/internal/model"
)

// multrunRotationTime is the worst-case time of one rotator revolution at slow speed,
// used when a MULTRUN gives no exposure length.
const multrunRotationTime = 80 * time.Second

// biasTime is the nominal time of one bias frame.
const biasTime = time.Second

// AcknowledgeTime is the time-to-complete reported to the caller before a command runs.
// It also bounds the command's fan-out deadline when deadlines are enabled.
func (in *Instrument) AcknowledgeTime(kind model.CommandKind, params any) time.Duration {
	cfg := in.view().cfg
	def := time.Duration(cfg.Acknowledge.DefaultMs) * time.Millisecond
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }

	switch kind {
	case model.CommandMultrun:
		p, _ := paramsAs[model.MultrunParams](params)
		if p.ExposureLengthMs > 0 {
			return ms(p.ExposureLengthMs) + def
		}
		return time.Duration(p.ExposureCount)*multrunRotationTime + def
	case model.CommandMultdark:
		p, _ := paramsAs[model.MultdarkParams](params)
		return (ms(p.ExposureLengthMs)+biasTime)*time.Duration(p.ExposureCount) + def
	case model.CommandMultbias:
		p, _ := paramsAs[model.MultbiasParams](params)
		return biasTime*time.Duration(p.ExposureCount) + def
	case model.CommandDark:
		p, _ := paramsAs[model.DarkParams](params)
		return ms(p.ExposureLengthMs) + biasTime + def
	case model.CommandBias:
		return biasTime + def
	case model.CommandConfig:
		return ms(cfg.Acknowledge.ConfigMs)
	case model.CommandReboot:
		p, _ := paramsAs[model.RebootParams](params)
		return cfg.RebootAcknowledgeTime(p.Level)
	default:
		return def
	}
}

// DecodeParams decodes the JSON parameters of a command into its parameter struct.
// Empty input yields the zero parameters.
func DecodeParams(kind model.CommandKind, raw []byte) (any, error) {
	switch kind {
	case model.CommandConfig:
		return decode[model.ConfigParams](raw)
	case model.CommandMultrun:
		return decode[model.MultrunParams](raw)
	case model.CommandMultdark:
		return decode[model.MultdarkParams](raw)
	case model.CommandMultbias:
		return decode[model.MultbiasParams](raw)
	case model.CommandDark:
		return decode[model.DarkParams](raw)
	case model.CommandBias:
		return decode[model.BiasParams](raw)
	case model.CommandAbort:
		return decode[model.AbortParams](raw)
	case model.CommandGetStatus:
		return decode[model.GetStatusParams](raw)
	case model.CommandReboot:
		return decode[model.RebootParams](raw)
	}
	return nil, fmt.Errorf("unknown command %q", kind)
}

func decode[T any](raw []byte) (any, error) {
	var p T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %T: %w", p, err)
		}
	}
	return p, nil
}
