package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
	"github.com/meta-node-blockchain/ben-or/pkg/config"
	"github.com/meta-node-blockchain/ben-or/pkg/logger"
	"github.com/meta-node-blockchain/ben-or/pkg/node"
	"github.com/meta-node-blockchain/ben-or/pkg/transport"
)

// scenario là một kịch bản mô phỏng trên transport.Bus.
type scenario struct {
	title  string
	values []string
	f      int
	faulty []int
	opts   []transport.Option

	// countOwn bật consensus.count_own_vote cho kịch bản này.
	countOwn bool
	// heal gỡ bộ lọc drop sau khoảng thời gian này nếu khác 0.
	heal time.Duration
}

// isolate trả về bộ lọc cắt mọi phiếu đi vào hoặc đi ra khỏi node id.
func isolate(id int) transport.DropFunc {
	return func(from, to int, _ benor.Vote) bool {
		return from == id || to == id
	}
}

// runSimulation thực hiện một kịch bản và in trạng thái cuối của từng node.
func runSimulation(sc scenario, consensus config.ConsensusConfig, timeout time.Duration) {
	logger.Info("==============================================================")
	logger.Info("KỊCH BẢN: %s", sc.title)
	logger.Info("==============================================================")

	cc := config.DefaultClusterConfig()
	cc.InitialValues = sc.values
	cc.NumFaulty = sc.f
	cc.FaultyNodes = sc.faulty
	cc.Consensus = consensus
	if sc.countOwn {
		cc.Consensus.CountOwnVote = true
	}
	if err := cc.Validate(); err != nil {
		logger.Error("Kịch bản không hợp lệ: %v", err)
		return
	}

	bus := transport.NewBus(sc.opts...)
	defer bus.Close()
	nodes := make([]*node.Node, 0, len(sc.values))
	defer func() {
		for _, n := range nodes {
			n.Close()
		}
	}()
	for i, nc := range cc.NodeConfigs() {
		n, err := node.NewNode(nc, bus.Endpoint(i))
		if err != nil {
			logger.Error("Node %d: %v", i, err)
			return
		}
		bus.Register(i, n)
		nodes = append(nodes, n)
	}

	for _, n := range nodes {
		if err := n.Start(); err != nil {
			logger.Info("Node %d không chạy: %v", n.ID(), err)
		}
	}
	if sc.heal > 0 {
		healer := time.AfterFunc(sc.heal, func() {
			logger.Info("Mạng được nối lại sau %s", sc.heal)
			bus.SetDropFunc(nil)
		})
		defer healer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, n := range nodes {
		if n.Identity().Faulty {
			continue
		}
		if _, err := n.Wait(ctx); err != nil {
			logger.Warn("Node %d chưa kết thúc sau %s, dừng node", n.ID(), timeout)
			n.Stop()
		}
	}

	logger.Info("--- KẾT QUẢ ---")
	for _, n := range nodes {
		s, err := n.State()
		if err != nil {
			logger.Info("Node %d: faulty", n.ID())
			continue
		}
		out, _ := n.Outcome()
		logger.Info("Node %d: %s x=%s decided=%s k=%s", n.ID(), out, fmtBit(s.X), fmtBool(s.Decided), fmtInt(s.K))
	}
	delivered, dropped, failed := bus.Stats()
	logger.Info("Bus: delivered=%d dropped=%d failed=%d", delivered, dropped, failed)
}

func fmtBit(b *benor.Bit) string {
	if b == nil {
		return "null"
	}
	return b.String()
}

func fmtBool(b *bool) string {
	if b == nil {
		return "null"
	}
	return fmt.Sprint(*b)
}

func fmtInt(i *int) string {
	if i == nil {
		return "null"
	}
	return fmt.Sprint(*i)
}

func main() {
	runs := flag.Int("runs", 1, "Number of times to run every scenario")
	retry := flag.Duration("retry", 100*time.Millisecond, "Retry interval of every node")
	timeout := flag.Duration("timeout", 5*time.Second, "Per scenario timeout")
	countOwn := flag.Bool("count-own-vote", false, "Count each node's own vote toward its thresholds in every scenario")
	flag.Parse()

	consensus := config.DefaultConsensusConfig()
	consensus.RetryIntervalMs = int(*retry / time.Millisecond)
	consensus.StartDelayMs = 0
	consensus.CountOwnVote = *countOwn

	scenarios := []scenario{
		{title: "Tất cả các nút đều trung thực", values: []string{"1", "1", "0"}, f: 1},
		{title: "Các nút trung thực bị chia rẽ (50/50)", values: []string{"1", "1", "0", "0"}, f: 1},
		{title: "Chia rẽ 50/50, đếm cả phiếu của chính mình", values: []string{"1", "1", "0", "0"}, f: 1, countOwn: true},
		{title: "3 nút trung thực + 1 nút lỗi", values: []string{"1", "0", "1", "1"}, f: 1, faulty: []int{3}},
		{title: "3 nút trung thực + 1 nút lỗi, đếm cả phiếu của chính mình", values: []string{"1", "0", "1", "1"}, f: 1, faulty: []int{3}, countOwn: true},
		{title: "Giá trị khởi tạo không rõ", values: []string{"0", "?", "0", "0", "0"}, f: 2},
		{
			title:  "Mạng có độ trễ ngẫu nhiên",
			values: []string{"1", "0", "1", "0", "1"},
			f:      2,
			opts:   []transport.Option{transport.WithLatency(10*time.Millisecond, 40*time.Millisecond)},
		},
		{
			title:  "Node 3 bị cô lập khỏi mạng",
			values: []string{"0", "0", "1", "1"},
			f:      1,
			opts:   []transport.Option{transport.WithDropFunc(isolate(3))},
		},
		{
			title:  "Node 0 bị cô lập tạm thời rồi nối lại",
			values: []string{"1", "1", "0", "1"},
			f:      1,
			opts:   []transport.Option{transport.WithDropFunc(isolate(0))},
			heal:   50 * time.Millisecond,
		},
	}

	for i := 1; i <= *runs; i++ {
		logger.Info("================= LẦN CHẠY %d/%d =================", i, *runs)
		for _, sc := range scenarios {
			runSimulation(sc, consensus, *timeout)
		}
	}
}
