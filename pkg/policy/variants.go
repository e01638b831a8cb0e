package policy

import (
	"context"
	"time"

	"github.com/lokutor-ai/turncore/pkg/cns"
	"github.com/lokutor-ai/turncore/pkg/predictor"
)

func toTrpRecord(r predictor.Result, utterance string, predictedAt time.Time) cns.TrpRecord {
	return cns.TrpRecord{
		Trp:            r.Trp,
		Utterance:      utterance,
		Time:           time.Now(),
		PredictionTime: predictedAt,
	}
}

// BaselineASR ends the user turn as soon as ASR delivers a finalized
// transcript, the IPU-level VAD detector has also dropped, and the
// recognizer is not already mid-way through a subsequent hypothesis, i.e.
// the recognizer's own endpointing is trusted with a short confirmation
// pause.
func BaselineASR() TurnOffTrigger {
	return func(_ context.Context, l *Loop) bool {
		user := l.cns.UserSnapshot()
		if user == nil || user.Utterance == "" {
			return false
		}
		return !l.cns.IsVadIPUActive() && !l.cns.IsASRActive()
	}
}

// BaselineVAD ends the user turn purely on the turn-level VAD detector's own
// hangover window, ignoring ASR finality entirely: the simplest policy,
// useful as a floor to compare predictive variants against.
func BaselineVAD() TurnOffTrigger {
	return func(_ context.Context, l *Loop) bool {
		if !l.cns.IsUserTurnActive() {
			return false
		}
		return !l.cns.IsVadTurnActive()
	}
}

// EOT queries a remote end-of-turn predictor once ASR has finalized a
// transcript and gone quiet again, the same trigger point as BaselineASR,
// but additionally requires the predictor's turn-relevance probability to
// clear threshold before ending the turn. A failed predictor call
// (Result.Failed) is treated as "keep listening", never as an endpoint.
func EOT(p predictor.Predictor, threshold float64) TurnOffTrigger {
	return func(ctx context.Context, l *Loop) bool {
		user := l.cns.UserSnapshot()
		if user == nil || user.Utterance == "" {
			return false
		}
		if l.cns.IsVadIPUActive() || l.cns.IsASRActive() {
			return false
		}

		text := append(l.cns.Memory().DialogText(), user.Utterance)
		before := time.Now()
		result := p.Predict(ctx, text)
		l.cns.RecordTrp(toTrpRecord(result, user.Utterance, before))
		if result.Failed {
			return false
		}
		l.cns.SetUserEOT(user.Utterance, result.Trp)
		return result.Trp >= threshold
	}
}

// Prediction queries the same remote predictor as EOT, but every tick while
// the user turn is active rather than only once ASR finalizes: it scores
// the live preliminary hypothesis so the agent can anticipate a turn end
// before the recognizer itself confirms one.
func Prediction(p predictor.Predictor, threshold float64) TurnOffTrigger {
	return func(ctx context.Context, l *Loop) bool {
		user := l.cns.UserSnapshot()
		if user == nil {
			return false
		}
		live := user.Utterance
		if live == "" {
			live = user.PrelUtterance
		}
		if live == "" {
			return false
		}

		text := append(l.cns.Memory().DialogText(), live)
		before := time.Now()
		result := p.Predict(ctx, text)
		l.cns.RecordTrp(toTrpRecord(result, live, before))
		if result.Failed {
			return false
		}
		l.cns.SetUserEOT(live, result.Trp)
		return result.Trp >= threshold
	}
}
