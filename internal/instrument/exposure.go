package instrument

import (
	"context"
	"fmt"

	"github.com/LivTel/moptop/internal/dispatch"
	"github.com/LivTel/moptop/internal/logging"
	"github.com/LivTel/moptop/internal/model"
	"github.com/LivTel/moptop/internal/peer"
)

// multrunSetup uses multrun_setup both to read and to advance a peer's multrun number:
// each call allocates the next number and returns it.
type multrunSetup struct {
	channel peer.Channel
}

func (m multrunSetup) QuerySequence(ctx context.Context, ep model.PeerEndpoint) (int, error) {
	return m.setup(ctx, ep)
}

func (m multrunSetup) AdvanceSequence(ctx context.Context, ep model.PeerEndpoint) (int, error) {
	return m.setup(ctx, ep)
}

func (m multrunSetup) setup(ctx context.Context, ep model.PeerEndpoint) (int, error) {
	payload, err := peer.Call(ctx, m.channel, ep, peer.CommandMultrunSetup)
	if err != nil {
		return 0, err
	}
	return peer.ParsePayload(ep, peer.CommandMultrunSetup, payload, peer.ParseInt)
}

// exposureCall sends an exposure command and parses the "<count> <number> <filename>" payload.
func exposureCall(ch peer.Channel) dispatch.CallFunc[string, peer.ExposureReply] {
	return func(ctx context.Context, ep model.PeerEndpoint, command string) (peer.ExposureReply, error) {
		payload, err := peer.Call(ctx, ch, ep, command)
		if err != nil {
			return peer.ExposureReply{}, err
		}
		return peer.ParsePayload(ep, command, payload, peer.ParseExposureReply)
	}
}

// plainCall sends a command whose success payload carries nothing of interest.
func plainCall(ch peer.Channel) dispatch.CallFunc[string, string] {
	return func(ctx context.Context, ep model.PeerEndpoint, command string) (string, error) {
		return peer.Call(ctx, ch, ep, command)
	}
}

type exposureCodes struct {
	dispatch int
	peer     int
}

var (
	multrunCodes  = exposureCodes{model.ErrorCodeMultrunDispatch, model.ErrorCodeMultrunPeer}
	multdarkCodes = exposureCodes{model.ErrorCodeMultdarkDispatch, model.ErrorCodeMultdarkPeer}
	multbiasCodes = exposureCodes{model.ErrorCodeMultbiasDispatch, model.ErrorCodeMultbiasPeer}
	darkCodes     = exposureCodes{model.ErrorCodeDarkDispatch, model.ErrorCodeDarkPeer}
	biasCodes     = exposureCodes{model.ErrorCodeBiasDispatch, model.ErrorCodeBiasPeer}
)

func (in *Instrument) multrun(ctx context.Context, p model.MultrunParams) model.AggregateResult {
	if p.ExposureCount <= 0 || p.ExposureLengthMs < 0 {
		return model.Failure(model.ErrorCodeBadRequest, fmt.Sprintf(
			"MULTRUN: illegal exposure length %d or count %d", p.ExposureLengthMs, p.ExposureCount))
	}
	v := in.view()
	number, err := v.reconciler.Reconcile(ctx, v.endpoints)
	if err != nil {
		return v.agg.FromError("MULTRUN", err, model.ErrorCodeSetupDispatch)
	}
	in.logger.Log(logging.LevelInfo, "MULTRUN: multrun number %d length=%d count=%d standard=%t",
		number, p.ExposureLengthMs, p.ExposureCount, p.Standard)

	res := in.expose(ctx, v, "MULTRUN", peer.Multrun(p.ExposureLengthMs, p.ExposureCount, p.Standard), multrunCodes)
	if res.Successful && res.MultrunNumber != number {
		in.logger.Log(logging.LevelWarn, "MULTRUN: primary peer used multrun number %d, reconciled %d",
			res.MultrunNumber, number)
	}
	return res
}

func (in *Instrument) multdark(ctx context.Context, p model.MultdarkParams) model.AggregateResult {
	if p.ExposureCount <= 0 || p.ExposureLengthMs < 0 {
		return model.Failure(model.ErrorCodeBadRequest, fmt.Sprintf(
			"MULTDARK: illegal exposure length %d or count %d", p.ExposureLengthMs, p.ExposureCount))
	}
	v := in.view()
	return in.expose(ctx, v, "MULTDARK", peer.Multdark(p.ExposureLengthMs, p.ExposureCount), multdarkCodes)
}

func (in *Instrument) multbias(ctx context.Context, p model.MultbiasParams) model.AggregateResult {
	if p.ExposureCount <= 0 {
		return model.Failure(model.ErrorCodeBadRequest, fmt.Sprintf("MULTBIAS: illegal exposure count %d", p.ExposureCount))
	}
	v := in.view()
	return in.expose(ctx, v, "MULTBIAS", peer.Multbias(p.ExposureCount), multbiasCodes)
}

// DARK and BIAS are single-frame MULTDARK and MULTBIAS.
func (in *Instrument) dark(ctx context.Context, p model.DarkParams) model.AggregateResult {
	if p.ExposureLengthMs < 0 {
		return model.Failure(model.ErrorCodeBadRequest, fmt.Sprintf("DARK: illegal exposure length %d", p.ExposureLengthMs))
	}
	v := in.view()
	return in.expose(ctx, v, "DARK", peer.Multdark(p.ExposureLengthMs, 1), darkCodes)
}

func (in *Instrument) bias(ctx context.Context) model.AggregateResult {
	v := in.view()
	return in.expose(ctx, v, "BIAS", peer.Multbias(1), biasCodes)
}

// expose fans an exposure command out to every peer and reports the primary peer's
// last filename, file count and multrun number.
func (in *Instrument) expose(ctx context.Context, v *view, label, command string, codes exposureCodes) model.AggregateResult {
	if err := in.abort.Check(); err != nil {
		return v.agg.FromError(label, err, codes.dispatch)
	}
	outcomes, err := dispatch.FanOut(ctx, v.coord, label, v.endpoints,
		dispatch.Repeat(command, len(v.endpoints)), exposureCall(v.channel))
	if err != nil {
		return v.agg.FromError(label, err, codes.dispatch)
	}

	res := dispatch.Aggregate(v.agg, label, outcomes, codes.peer,
		func(r peer.ExposureReply) string { return r.LastFilename })
	if !res.Successful {
		return res
	}
	if primary, ok := dispatch.Primary(v.agg, outcomes); ok {
		res.FilenameCount = primary.FilenameCount
		res.MultrunNumber = primary.MultrunNumber
	}
	for _, o := range outcomes {
		in.logger.Log(logging.LevelDebug, "%s: peer=%d files=%d multrun=%d last=%s",
			label, o.PeerIndex, o.Value.FilenameCount, o.Value.MultrunNumber, o.Value.LastFilename)
	}
	if err := in.state.RecordRun(res.MultrunNumber, res.Filename); err != nil {
		in.logger.Log(logging.LevelWarn, "%s: %v", label, err)
	}
	return res
}
