package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
	"github.com/meta-node-blockchain/ben-or/pkg/common"
	"github.com/meta-node-blockchain/ben-or/pkg/config"
	"github.com/meta-node-blockchain/ben-or/pkg/logger"
	"github.com/meta-node-blockchain/ben-or/pkg/loggerfile"
	"github.com/meta-node-blockchain/ben-or/pkg/metrics"
	"github.com/meta-node-blockchain/ben-or/pkg/votelog"
)

// Node là một thành viên của mạng đồng thuận: giữ trạng thái, vote log và
// điều khiển vòng đời của engine.
type Node struct {
	Config  *config.NodeConfig
	id      benor.Identity
	initial *benor.Bit
	params  benor.Params

	state   *benor.Consensus
	votes   *votelog.Log
	net     benor.Broadcaster
	metrics *metrics.Metrics

	// startMu serialises Start and Close; runMu guards the fields below.
	startMu sync.Mutex
	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runID   string
	outcome *benor.Outcome
}

type Option func(*Node)

// WithMetrics dùng chung metrics với các thành phần khác của node, ví dụ broadcaster.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) {
		if m != nil {
			n.metrics = m
		}
	}
}

// NewNode khởi tạo một Node mới từ cấu hình. net là đường gửi phiếu tới các node khác.
func NewNode(cfg *config.NodeConfig, net benor.Broadcaster, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	votes, err := votelog.Open(cfg.VoteLog.Backend, votelog.AllowDuplicates(cfg.VoteLog.AllowDuplicates))
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", cfg.ID, err)
	}

	n := &Node{
		Config:  cfg,
		id:      cfg.Identity(),
		initial: cfg.Initial(),
		params:  cfg.Consensus.Params(),
		state:   benor.NewConsensus(cfg.Faulty, cfg.Initial()),
		votes:   votes,
		net:     net,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.metrics == nil {
		n.metrics = metrics.New(cfg.ID)
	}
	return n, nil
}

func (n *Node) ID() int { return n.id.ID }

func (n *Node) Identity() benor.Identity { return n.id }

func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

func (n *Node) Votes() *votelog.Log { return n.votes }

// Status trả về "faulty" cho node lỗi, ngược lại là "live" (kể cả khi đã dừng).
func (n *Node) Status() string {
	if n.state.Faulty() {
		return common.StatusFaulty
	}
	return common.StatusLive
}

// State returns a snapshot of the consensus state, or ErrFaulty with an all-nil state.
func (n *Node) State() (benor.State, error) {
	if n.state.Faulty() {
		return benor.State{}, benor.ErrFaulty
	}
	return n.state.Snapshot(), nil
}

// Start đặt lại trạng thái, xoá vote log và chạy engine trong một goroutine mới.
// A run still in progress is cancelled and awaited first.
func (n *Node) Start() error {
	if n.state.Faulty() {
		return benor.ErrFaulty
	}
	if n.state.Killed() {
		return benor.ErrKilled
	}

	n.startMu.Lock()
	defer n.startMu.Unlock()
	n.runMu.Lock()
	defer n.runMu.Unlock()
	n.stopRunLocked(true)

	if !n.state.Reset(n.initial) {
		return benor.ErrKilled
	}
	if err := n.votes.Reset(); err != nil {
		return fmt.Errorf("node %d: %w", n.id.ID, err)
	}

	runID := uuid.NewString()
	opts := []benor.EngineOption{benor.WithObserver(n.metrics)}
	trace := n.openTrace(runID)
	if trace != nil {
		opts = append(opts, benor.WithTracer(trace))
	}
	engine := benor.NewEngine(n.id, n.params, n.state, n.votes, n.net, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	n.cancel, n.done, n.runID, n.outcome = cancel, done, runID, nil

	logger.Info("Node %d starting consensus run %s (x=%s)", n.id.ID, runID, formatInitial(n.initial))
	go func() {
		defer close(done)
		defer trace.Close()
		out := engine.Run(ctx)
		n.runMu.Lock()
		if n.runID == runID {
			n.outcome = &out
		}
		n.runMu.Unlock()
		logger.Debug("Node %d run %s finished: %s", n.id.ID, runID, out)
	}()
	return nil
}

func (n *Node) openTrace(runID string) *loggerfile.FileLogger {
	dir := n.Config.Log.TraceDir
	if dir == "" {
		return nil
	}
	trace, err := loggerfile.NewRunTrace(dir, n.id.ID, runID)
	if err != nil {
		logger.Warn("Node %d: cannot open trace file: %v", n.id.ID, err)
		return nil
	}
	return trace
}

// Stop đóng băng node: killed=true, decided=nil. Idempotent; it does not wait
// for the engine to notice.
func (n *Node) Stop() error {
	if !n.state.Kill() {
		return benor.ErrFaulty
	}
	n.runMu.Lock()
	n.stopRunLocked(false)
	n.runMu.Unlock()
	logger.Info("Node %d stopped", n.id.ID)
	return nil
}

func (n *Node) stopRunLocked(wait bool) {
	if n.cancel == nil {
		return
	}
	n.cancel()
	if wait {
		// the run goroutine takes runMu to record its outcome
		done := n.done
		n.runMu.Unlock()
		<-done
		n.runMu.Lock()
	}
}

// HandleMessage nhận một phiếu từ node khác. Malformed values and unknown
// phases are dropped without error; only a faulty or stopped node rejects.
func (n *Node) HandleMessage(msg benor.Message) error {
	if n.state.Faulty() {
		n.metrics.VoteDropped(metrics.ReasonRejected)
		return benor.ErrFaulty
	}
	if n.state.Killed() {
		n.metrics.VoteDropped(metrics.ReasonRejected)
		return benor.ErrKilled
	}
	v, err := msg.Vote()
	if err != nil {
		reason := metrics.ReasonMalformed
		if errors.Is(err, benor.ErrUnknownPhase) {
			reason = metrics.ReasonUnknownPhase
		}
		n.metrics.VoteDropped(reason)
		logger.Trace("Node %d dropped vote: %v", n.id.ID, err)
		return nil
	}
	if !n.votes.Append(v) {
		n.metrics.VoteDropped(metrics.ReasonDuplicate)
		return nil
	}
	n.metrics.VoteReceived(v.Phase)
	return nil
}

// Done trả về channel đóng khi lần chạy hiện tại kết thúc; đã đóng nếu chưa từng chạy.
func (n *Node) Done() <-chan struct{} {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if n.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return n.done
}

// Wait blocks until the current run ends or ctx is done.
func (n *Node) Wait(ctx context.Context) (benor.Outcome, error) {
	select {
	case <-n.Done():
	case <-ctx.Done():
		return benor.OutcomeFrozen, ctx.Err()
	}
	out, ok := n.Outcome()
	if !ok {
		return benor.OutcomeFrozen, nil
	}
	return out, nil
}

// Outcome reports how the last finished run ended.
func (n *Node) Outcome() (benor.Outcome, bool) {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	if n.outcome == nil {
		return benor.OutcomeFrozen, false
	}
	return *n.outcome, true
}

// RunID is the id of the latest engine run, empty before the first start.
func (n *Node) RunID() string {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	return n.runID
}

// Close huỷ lần chạy hiện tại, chờ nó kết thúc rồi giải phóng vote log.
func (n *Node) Close() error {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	n.runMu.Lock()
	n.stopRunLocked(true)
	n.cancel = nil
	n.runMu.Unlock()
	return n.votes.Close()
}

func formatInitial(x *benor.Bit) string {
	if x == nil {
		return benor.UnknownValue
	}
	return x.String()
}
