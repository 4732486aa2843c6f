package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
)

type inbox struct {
	mu   sync.Mutex
	msgs []benor.Message
	err  error
}

func (i *inbox) HandleMessage(msg benor.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	i.msgs = append(i.msgs, msg)
	return nil
}

func (i *inbox) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.msgs)
}

func TestBroadcastSkipsSelf(t *testing.T) {
	bus := NewBus()
	boxes := []*inbox{{}, {}, {}}
	for id, b := range boxes {
		bus.Register(id, b)
	}

	vote := benor.Vote{From: 1, Phase: benor.PhaseOne, Round: 0, Value: benor.One}
	bus.Endpoint(1).Broadcast(context.Background(), vote)
	bus.Close()

	assert.Equal(t, 1, boxes[0].count())
	assert.Equal(t, 0, boxes[1].count())
	assert.Equal(t, 1, boxes[2].count())
	assert.Equal(t, vote.Message(), boxes[0].msgs[0])

	delivered, dropped, failed := bus.Stats()
	assert.Equal(t, int64(2), delivered)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
}

func TestDropFuncPartitions(t *testing.T) {
	bus := NewBus(WithDropFunc(func(from, to int, _ benor.Vote) bool { return to == 2 }))
	boxes := []*inbox{{}, {}, {}}
	for id, b := range boxes {
		bus.Register(id, b)
	}

	bus.Endpoint(0).Broadcast(context.Background(), benor.Vote{From: 0, Phase: benor.PhaseTwo, Value: benor.Zero})
	bus.Close()

	assert.Equal(t, 1, boxes[1].count())
	assert.Equal(t, 0, boxes[2].count())
	_, dropped, _ := bus.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestReceiverErrorsAreSwallowed(t *testing.T) {
	bus := NewBus()
	bus.Register(0, &inbox{})
	bus.Register(1, &inbox{err: errors.New("stopped")})

	assert.NotPanics(t, func() {
		bus.Endpoint(0).Broadcast(context.Background(), benor.Vote{From: 0, Phase: benor.PhaseOne, Value: benor.One})
	})
	bus.Close()
	_, _, failed := bus.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestLatencyDelaysDelivery(t *testing.T) {
	bus := NewBus(WithLatency(50*time.Millisecond, 0))
	box := &inbox{}
	bus.Register(0, &inbox{})
	bus.Register(1, box)

	bus.Endpoint(0).Broadcast(context.Background(), benor.Vote{From: 0, Phase: benor.PhaseOne, Value: benor.One})
	assert.Equal(t, 0, box.count())
	require.Eventually(t, func() bool { return box.count() == 1 }, time.Second, 5*time.Millisecond)
	bus.Close()
}

func TestCancelledContextSendsNothing(t *testing.T) {
	bus := NewBus()
	box := &inbox{}
	bus.Register(0, &inbox{})
	bus.Register(1, box)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Endpoint(0).Broadcast(ctx, benor.Vote{From: 0, Phase: benor.PhaseOne, Value: benor.One})
	bus.Close()
	assert.Equal(t, 0, box.count())
}

func TestClosedBusDropsSends(t *testing.T) {
	bus := NewBus()
	box := &inbox{}
	bus.Register(0, &inbox{})
	bus.Register(1, box)
	bus.Close()

	bus.Endpoint(0).Broadcast(context.Background(), benor.Vote{From: 0, Phase: benor.PhaseOne, Value: benor.One})
	assert.Equal(t, 0, box.count())
}
