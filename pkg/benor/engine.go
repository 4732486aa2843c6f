package benor

import (
	"context"
	"time"

	"github.com/meta-node-blockchain/ben-or/pkg/logger"
)

const (
	DefaultRetryInterval = 100 * time.Millisecond
	DefaultStartDelay    = 100 * time.Millisecond
	DefaultRoundCap      = 15
)

// Params điều khiển thời gian và chính sách của engine.
type Params struct {
	// RetryInterval is both the collection window of a phase and the delay
	// between retries while the N-F threshold is not met.
	RetryInterval time.Duration
	StartDelay    time.Duration
	// RoundCap stops the engine once k reaches it without a decision.
	RoundCap int
	// Fallback is proposed in phase 2 when neither value reaches the quorum.
	Fallback Bit
	// CountOwnVote adds the node's own vote to its own log. Off by default:
	// only votes received from peers are counted.
	CountOwnVote bool
	Rebroadcast  bool
}

func DefaultParams() Params {
	return Params{
		RetryInterval: DefaultRetryInterval,
		StartDelay:    DefaultStartDelay,
		RoundCap:      DefaultRoundCap,
		Fallback:      One,
		CountOwnVote:  false,
		Rebroadcast:   true,
	}
}

// Engine chạy giao thức Ben-Or cho một node: propose/collect/decide theo từng vòng.
// An Engine is used for a single run; the node controller builds a new one per start.
type Engine struct {
	id       Identity
	params   Params
	state    *Consensus
	votes    VoteLog
	net      Broadcaster
	observer Observer
	trace    Tracer
}

type EngineOption func(*Engine)

func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

func WithTracer(t Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.trace = t
		}
	}
}

func NewEngine(id Identity, params Params, state *Consensus, votes VoteLog, net Broadcaster, opts ...EngineOption) *Engine {
	e := &Engine{
		id:       id,
		params:   params,
		state:    state,
		votes:    votes,
		net:      net,
		observer: nopObserver{},
		trace:    nopTracer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.params.RetryInterval <= 0 {
		e.params.RetryInterval = DefaultRetryInterval
	}
	if e.params.RoundCap <= 0 {
		e.params.RoundCap = DefaultRoundCap
	}
	return e
}

// Run executes rounds until the node decides, hits the round cap, or is frozen
// by a stop (killed flag or ctx cancellation). It never returns an error.
func (e *Engine) Run(ctx context.Context) Outcome {
	if e.id.Faulty || !e.state.live() {
		return OutcomeFrozen
	}
	if !e.sleep(ctx, e.params.StartDelay) {
		return OutcomeFrozen
	}

	if e.id.N == 1 {
		if !e.state.decideAlone() {
			return OutcomeFrozen
		}
		x := *e.state.Snapshot().X
		e.trace.Info("Node %d is alone, decided %v", e.id.ID, x)
		logger.Info("🏆 Node %d DECIDED %v (single node)", e.id.ID, x)
		e.observer.Decided(x, 0)
		return OutcomeDecided
	}

	for {
		x, k, ok := e.state.estimate()
		if !ok {
			return OutcomeFrozen
		}
		e.observer.RoundStarted(k)
		e.trace.Info("Node %d round %d: estimate %s", e.id.ID, k, formatEstimate(x))

		var own *Vote
		if x != nil {
			own = &Vote{From: e.id.ID, Phase: PhaseOne, Round: k, Value: *x}
		}
		count1, ok := e.collect(ctx, PhaseOne, k, own)
		if !ok {
			return OutcomeFrozen
		}

		proposed := ProposalValue(count1, e.id.N, e.params.Fallback)
		e.trace.Info("Node %d round %d: phase1 tally 0:%d 1:%d, proposing %v (quorum %d)",
			e.id.ID, k, count1.Zero, count1.One, proposed, Quorum(e.id.N))

		count2, ok := e.collect(ctx, PhaseTwo, k, &Vote{From: e.id.ID, Phase: PhaseTwo, Round: k, Value: proposed})
		if !ok {
			return OutcomeFrozen
		}
		e.trace.Info("Node %d round %d: phase2 tally 0:%d 1:%d (threshold %d)",
			e.id.ID, k, count2.Zero, count2.One, e.id.DecisionThreshold())

		if v, decided := Decide(count2, e.id); decided {
			if !e.state.decide(v) {
				return OutcomeFrozen
			}
			e.trace.Info("Node %d DECIDED %v at round %d", e.id.ID, v, k)
			logger.Info("🏆 Node %d DECIDED %v at round %d", e.id.ID, v, k)
			e.observer.Decided(v, k)
			return OutcomeDecided
		}

		next, ok := e.state.advance(proposed)
		if !ok {
			return OutcomeFrozen
		}
		if next >= e.params.RoundCap {
			e.trace.Info("Node %d reached round cap %d without deciding", e.id.ID, e.params.RoundCap)
			logger.Warn("Node %d exceeded max rounds (%d), stopping.", e.id.ID, e.params.RoundCap)
			e.observer.Aborted(next)
			return OutcomeAborted
		}
		logger.Debug("Node %d advancing to round %d with estimate %v", e.id.ID, next, proposed)
	}
}

// collect broadcasts own (if any) and waits for the phase tally at round.
//
// The first RetryInterval is a collection window: the engine only leaves it
// early once every possible voter has been heard. After the window it leaves as
// soon as N-F votes are present. Each further expiry with the threshold unmet is
// a retry in the same round, re-broadcasting own when Rebroadcast is set.
func (e *Engine) collect(ctx context.Context, phase Phase, round int, own *Vote) (Tally, bool) {
	if !e.send(ctx, own, true) {
		return Tally{}, false
	}

	need := e.id.DecisionThreshold()
	everyone := e.id.N - 1
	if own != nil && e.params.CountOwnVote {
		everyone = e.id.N
	}

	timer := time.NewTimer(e.params.RetryInterval)
	defer timer.Stop()
	windowOpen := true
	retries := 0

	for {
		changed := e.votes.Changed()
		if !e.state.live() {
			return Tally{}, false
		}
		t := e.votes.Tally(phase, round)
		if t.Total() >= need && (!windowOpen || t.Total() >= everyone) {
			return t, true
		}

		select {
		case <-ctx.Done():
			return Tally{}, false
		case <-changed:
		case <-timer.C:
			windowOpen = false
			if e.votes.Tally(phase, round).Total() < need {
				retries++
				e.observer.Retried(phase, round)
				e.trace.Info("Node %d round %d: not enough %s votes (%d/%d), retry %d",
					e.id.ID, round, phase, t.Total(), need, retries)
				logger.Debug("Node %d: Not enough %s messages for round %d, waiting...", e.id.ID, phase, round)
				if e.params.Rebroadcast && !e.send(ctx, own, false) {
					return Tally{}, false
				}
			}
			timer.Reset(e.params.RetryInterval)
		}
	}
}

// send broadcasts own unless the node has been frozen. The first send of a
// phase also records own in the local log when CountOwnVote is set.
func (e *Engine) send(ctx context.Context, own *Vote, first bool) bool {
	if !e.state.live() || ctx.Err() != nil {
		return false
	}
	if own == nil {
		return true
	}
	if first && e.params.CountOwnVote {
		e.votes.Append(*own)
	}
	e.net.Broadcast(ctx, *own)
	return e.state.live() && ctx.Err() == nil
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return e.state.live()
	}
}

func formatEstimate(x *Bit) string {
	if x == nil {
		return UnknownValue
	}
	return x.String()
}

type nopObserver struct{}

func (nopObserver) RoundStarted(int)   {}
func (nopObserver) Retried(Phase, int) {}
func (nopObserver) Decided(Bit, int)   {}
func (nopObserver) Aborted(int)        {}

type nopTracer struct{}

func (nopTracer) Info(interface{}, ...interface{}) {}
