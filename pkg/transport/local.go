// file: pkg/transport/local.go
package transport

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
	"github.com/meta-node-blockchain/ben-or/pkg/logger"
)

// Receiver là phía nhận phiếu của một node.
type Receiver interface {
	HandleMessage(msg benor.Message) error
}

// DropFunc quyết định bỏ một phiếu trên đường from -> to, dùng để mô phỏng phân vùng mạng.
type DropFunc func(from, to int, v benor.Vote) bool

// Bus là mạng cục bộ trong tiến trình với độ trễ mô phỏng.
type Bus struct {
	mu        sync.RWMutex
	receivers map[int]Receiver
	latency   time.Duration
	jitter    time.Duration
	drop      DropFunc
	closed    bool
	inflight  sync.WaitGroup

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

type Option func(*Bus)

// WithLatency thêm độ trễ latency cộng một phần ngẫu nhiên tối đa jitter.
func WithLatency(latency, jitter time.Duration) Option {
	return func(b *Bus) {
		b.latency = latency
		b.jitter = jitter
	}
}

func WithDropFunc(drop DropFunc) Option {
	return func(b *Bus) { b.drop = drop }
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{receivers: make(map[int]Receiver)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register đăng ký receiver cho node id, thay thế receiver cũ nếu có.
func (b *Bus) Register(id int, r Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receivers[id] = r
}

// SetDropFunc thay bộ lọc khi mạng đang chạy.
func (b *Bus) SetDropFunc(drop DropFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop = drop
}

// Endpoint returns the broadcaster node id uses to reach every other node.
func (b *Bus) Endpoint(id int) benor.Broadcaster {
	return &endpoint{bus: b, from: id}
}

type endpoint struct {
	bus  *Bus
	from int
}

// Broadcast không chờ giao xong; phiếu đã gửi vẫn tới nơi dù ctx bị huỷ sau đó.
func (e *endpoint) Broadcast(ctx context.Context, v benor.Vote) {
	if ctx.Err() != nil {
		return
	}
	e.bus.send(e.from, v)
}

func (b *Bus) send(from int, v benor.Vote) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for to, r := range b.receivers {
		if to == from {
			continue
		}
		if b.drop != nil && b.drop(from, to, v) {
			b.dropped.Add(1)
			continue
		}
		b.inflight.Add(1)
		go b.deliver(to, r, v.Message())
	}
}

func (b *Bus) deliver(to int, r Receiver, msg benor.Message) {
	defer b.inflight.Done()
	if d := b.delay(); d > 0 {
		time.Sleep(d)
	}
	if err := r.HandleMessage(msg); err != nil {
		b.failed.Add(1)
		logger.Trace("bus: node %d -> %d %s round %d: %v", msg.From, to, msg.Phase, msg.Round, err)
		return
	}
	b.delivered.Add(1)
}

func (b *Bus) delay() time.Duration {
	d := b.latency
	if b.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.jitter)))
	}
	return d
}

// Stats trả về số phiếu đã giao, bị bỏ và bị node nhận từ chối.
func (b *Bus) Stats() (delivered, dropped, failed int64) {
	return b.delivered.Load(), b.dropped.Load(), b.failed.Load()
}

// Close ngừng nhận phiếu mới và chờ các phiếu đang gửi.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.inflight.Wait()
}
