package benor

import "sync"

// State is a point-in-time copy of a node's consensus state. Nil fields are
// unknown: faulty nodes report every field nil, a stopped node reports Decided nil.
type State struct {
	Killed  bool
	X       *Bit
	Decided *bool
	K       *int
}

// Consensus giữ trạng thái đồng thuận có thể thay đổi của một node.
// Only the node's engine and lifecycle controller touch it.
type Consensus struct {
	mu      sync.RWMutex
	faulty  bool
	killed  bool
	x       *Bit
	decided *bool
	k       *int
}

// NewConsensus tạo trạng thái ban đầu. A faulty node keeps every field nil forever.
func NewConsensus(faulty bool, initial *Bit) *Consensus {
	c := &Consensus{faulty: faulty}
	if faulty {
		return c
	}
	c.x = copyBit(initial)
	c.decided = boolPtr(false)
	c.k = intPtr(0)
	return c
}

// Reset puts the state back to round 0 with the given estimate.
// It is a no-op on faulty or killed state.
func (c *Consensus) Reset(initial *Bit) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faulty || c.killed {
		return false
	}
	c.x = copyBit(initial)
	c.decided = boolPtr(false)
	c.k = intPtr(0)
	return true
}

// Kill đóng băng trạng thái: killed=true, decided=nil; x và k giữ nguyên.
func (c *Consensus) Kill() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faulty {
		return false
	}
	c.killed = true
	c.decided = nil
	return true
}

func (c *Consensus) Killed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.killed
}

func (c *Consensus) Faulty() bool {
	return c.faulty
}

// Snapshot returns a copy that is safe to hand out.
func (c *Consensus) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := State{
		Killed: c.killed,
		X:      copyBit(c.x),
	}
	if c.decided != nil {
		s.Decided = boolPtr(*c.decided)
	}
	if c.k != nil {
		s.K = intPtr(*c.k)
	}
	return s
}

func (c *Consensus) live() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.faulty && !c.killed
}

// estimate trả về x và k hiện tại; ok=false khi node đã bị dừng hoặc lỗi.
func (c *Consensus) estimate() (*Bit, int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.faulty || c.killed || c.k == nil {
		return nil, 0, false
	}
	return copyBit(c.x), *c.k, true
}

func (c *Consensus) decide(v Bit) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faulty || c.killed {
		return false
	}
	c.x = BitOf(v)
	c.decided = boolPtr(true)
	return true
}

// decideAlone is the single-node shortcut: decide the estimate, or One when unknown.
func (c *Consensus) decideAlone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faulty || c.killed {
		return false
	}
	if c.x == nil {
		c.x = BitOf(One)
	}
	c.decided = boolPtr(true)
	return true
}

// advance adopts the proposal as the new estimate and moves to the next round.
func (c *Consensus) advance(proposed Bit) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faulty || c.killed || c.k == nil {
		return 0, false
	}
	c.x = BitOf(proposed)
	c.decided = boolPtr(false)
	next := *c.k + 1
	c.k = intPtr(next)
	return next, true
}

func copyBit(b *Bit) *Bit {
	if b == nil {
		return nil
	}
	return BitOf(*b)
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
