package network

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
	"github.com/meta-node-blockchain/ben-or/pkg/logger"
	"github.com/meta-node-blockchain/ben-or/pkg/metrics"
)

// Broadcaster gửi phiếu tới mọi peer qua POST /message, song song.
// Delivery failures are counted and logged, never returned.
type Broadcaster struct {
	self    int
	peers   map[int]*Client
	order   []int
	metrics *metrics.Metrics
}

// NewBroadcaster creates a broadcaster for node self. peers maps node id to
// address; self is skipped if present. metrics may be nil.
func NewBroadcaster(self int, peers map[int]string, timeout time.Duration, m *metrics.Metrics) *Broadcaster {
	b := &Broadcaster{
		self:    self,
		peers:   make(map[int]*Client, len(peers)),
		metrics: m,
	}
	for id, addr := range peers {
		if id == self {
			continue
		}
		b.peers[id] = NewClient(addr, timeout)
		b.order = append(b.order, id)
	}
	sort.Ints(b.order)
	return b
}

// Peers trả về id các peer theo thứ tự tăng dần.
func (b *Broadcaster) Peers() []int {
	return append([]int(nil), b.order...)
}

func (b *Broadcaster) Broadcast(ctx context.Context, v benor.Vote) {
	started := time.Now()
	var failures atomic.Int64
	var g errgroup.Group
	for _, id := range b.order {
		client := b.peers[id]
		peer := id
		g.Go(func() error {
			if err := client.SendMessage(ctx, v); err != nil {
				failures.Add(1)
				logger.Debug("Node %d -> %d %s round %d failed: %v", b.self, peer, v.Phase, v.Round, err)
			}
			return nil
		})
	}
	g.Wait()
	b.metrics.Broadcast(v.Phase, int(failures.Load()), time.Since(started).Seconds())
}
