package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
	"github.com/meta-node-blockchain/ben-or/pkg/common"
	"github.com/meta-node-blockchain/ben-or/pkg/config"
	"github.com/meta-node-blockchain/ben-or/pkg/logger"
	"github.com/meta-node-blockchain/ben-or/pkg/metrics"
	"github.com/meta-node-blockchain/ben-or/pkg/network"
	"github.com/meta-node-blockchain/ben-or/pkg/node"
)

// Member là một node đang chạy trong cụm cùng server HTTP của nó.
type Member struct {
	Node    *node.Node
	Server  *network.Server
	Client  *network.Client
	Metrics *metrics.Metrics
}

// Cluster chạy N node HTTP trong cùng một tiến trình.
type Cluster struct {
	Config   *config.ClusterConfig
	Members  []*Member
	serveErr chan error
}

// Launch dựng và khởi động server cho mọi node, trả về khi tất cả đã sẵn sàng.
// Consensus is not started; call StartAll.
func Launch(cfg *config.ClusterConfig) (*Cluster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	configs := cfg.NodeConfigs()
	c := &Cluster{
		Config:   cfg,
		Members:  make([]*Member, len(configs)),
		serveErr: make(chan error, len(configs)),
	}

	// Mở listener trước để biết địa chỉ thật khi base_port là 0.
	servers := make([]*network.Server, len(configs))
	for i, nc := range configs {
		servers[i] = network.NewServer(nc.ConnectionAddress, nil)
		if err := servers[i].Listen(); err != nil {
			closeServers(servers[:i])
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
	}
	addrs := make(map[int]string, len(configs))
	for i, s := range servers {
		addrs[i] = s.Addr()
	}

	timeout := cfg.Network.BroadcastTimeout()
	limits := map[string]int{common.RouteMessage: cfg.Network.MessageRateLimit}
	for i, nc := range configs {
		nc.ConnectionAddress = addrs[i]
		for j := range nc.Peers {
			nc.Peers[j].ConnectionAddress = addrs[nc.Peers[j].Id]
		}
		m := metrics.New(i)
		b := network.NewBroadcaster(i, nc.PeerAddresses(), timeout, m)
		n, err := node.NewNode(nc, b, node.WithMetrics(m))
		if err != nil {
			closeServers(servers)
			for _, prev := range c.Members[:i] {
				prev.Node.Close()
			}
			return nil, err
		}
		servers[i].SetHandler(network.NewHandler(n, m.Handler(), limits))
		c.Members[i] = &Member{
			Node:    n,
			Server:  servers[i],
			Client:  network.NewClient(addrs[i], timeout),
			Metrics: m,
		}
	}

	for _, m := range c.Members {
		srv := m.Server
		go func() {
			if err := srv.Serve(); err != nil {
				c.serveErr <- err
			}
		}()
	}
	for i, m := range c.Members {
		select {
		case <-m.Server.Ready():
		case err := <-c.serveErr:
			c.Close()
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
	}
	logger.Info("Cluster of %d nodes ready (num_faulty=%d)", len(c.Members), cfg.NumFaulty)
	return c, nil
}

func closeServers(servers []*network.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, s := range servers {
		s.Shutdown(ctx)
	}
}

// Addrs trả về địa chỉ lắng nghe của từng node theo id.
func (c *Cluster) Addrs() []string {
	addrs := make([]string, len(c.Members))
	for i, m := range c.Members {
		addrs[i] = m.Server.Addr()
	}
	return addrs
}

// StartAll gửi GET /start tới mọi node. Faulty nodes answer 500 "faulty", which is
// expected and not an error.
func (c *Cluster) StartAll(ctx context.Context) error {
	return c.each(ctx, func(ctx context.Context, m *Member) error {
		return m.Client.Start(ctx)
	})
}

// StopAll gửi GET /stop tới mọi node.
func (c *Cluster) StopAll(ctx context.Context) error {
	return c.each(ctx, func(ctx context.Context, m *Member) error {
		return m.Client.Stop(ctx)
	})
}

func (c *Cluster) each(ctx context.Context, fn func(context.Context, *Member) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, m := range c.Members {
		member, id := m, i
		g.Go(func() error {
			err := fn(ctx, member)
			if err == nil || (errors.Is(err, benor.ErrFaulty) && c.Config.IsFaulty(id)) {
				return nil
			}
			return fmt.Errorf("node %d: %w", id, err)
		})
	}
	return g.Wait()
}

// States đọc /getState của mọi node. A faulty node yields its all-null state.
func (c *Cluster) States(ctx context.Context) ([]network.StateResponse, error) {
	states := make([]network.StateResponse, len(c.Members))
	g, ctx := errgroup.WithContext(ctx)
	for i, m := range c.Members {
		member, id := m, i
		g.Go(func() error {
			st, err := member.Client.State(ctx)
			if err != nil && !errors.Is(err, benor.ErrFaulty) {
				return fmt.Errorf("node %d: %w", id, err)
			}
			states[id] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

// AwaitDecision poll trạng thái cho tới khi mọi node không lỗi đã quyết định
// hoặc chạm giới hạn vòng, hoặc ctx hết hạn.
func (c *Cluster) AwaitDecision(ctx context.Context, interval time.Duration) ([]network.StateResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		states, err := c.States(ctx)
		if err == nil && c.settled(states) {
			return states, nil
		}
		select {
		case <-ctx.Done():
			if states == nil {
				return nil, ctx.Err()
			}
			return states, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Cluster) settled(states []network.StateResponse) bool {
	for i, st := range states {
		if c.Config.IsFaulty(i) {
			continue
		}
		if st.Decided != nil && *st.Decided {
			continue
		}
		if st.K != nil && *st.K >= c.Config.Consensus.RoundCap {
			continue
		}
		return false
	}
	return true
}

// Close tắt các server rồi giải phóng node.
func (c *Cluster) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var errs []error
	for _, m := range c.Members {
		if m == nil {
			continue
		}
		if err := m.Server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := m.Node.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
