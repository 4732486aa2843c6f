package benor

import (
	"context"
	"fmt"
)

// Bit là giá trị nhị phân mà các node cần đồng thuận.
type Bit uint8

const (
	Zero Bit = 0
	One  Bit = 1
)

// UnknownValue is the initial value marker for a node that has no estimate.
const UnknownValue = "?"

func (b Bit) String() string {
	if b == One {
		return "1"
	}
	return "0"
}

// BitOf returns a pointer to b, handy for optional estimates.
func BitOf(b Bit) *Bit {
	return &b
}

// ParseValue đọc giá trị khởi tạo "0", "1" hoặc "?" (không rõ).
func ParseValue(s string) (*Bit, error) {
	switch s {
	case "0":
		return BitOf(Zero), nil
	case "1":
		return BitOf(One), nil
	case UnknownValue, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("initial value %q: %w", s, ErrMalformedVote)
	}
}

// Phase định danh pha trong một vòng.
type Phase int

const (
	PhaseOne Phase = 1
	PhaseTwo Phase = 2
)

func (p Phase) Valid() bool {
	return p == PhaseOne || p == PhaseTwo
}

func (p Phase) String() string {
	return fmt.Sprintf("phase%d", int(p))
}

// Identity là thông tin bất biến của một node.
type Identity struct {
	ID     int
	N      int
	F      int
	Faulty bool
}

// DecisionThreshold is N-F, the count required to decide and to stop collecting.
func (id Identity) DecisionThreshold() int {
	return id.N - id.F
}

// Vote là một phiếu đã được kiểm tra hợp lệ.
type Vote struct {
	From  int
	Phase Phase
	Round int
	Value Bit
}

// Message is an inbound vote tuple before validation. Value stays an int so
// out-of-range values can be recognised and dropped.
type Message struct {
	From  int
	Phase Phase
	Round int
	Value int
}

// Vote validates m.
func (m Message) Vote() (Vote, error) {
	if m.Value != int(Zero) && m.Value != int(One) {
		return Vote{}, fmt.Errorf("value %d from node %d: %w", m.Value, m.From, ErrMalformedVote)
	}
	if !m.Phase.Valid() {
		return Vote{}, fmt.Errorf("phase %d from node %d: %w", m.Phase, m.From, ErrUnknownPhase)
	}
	return Vote{From: m.From, Phase: m.Phase, Round: m.Round, Value: Bit(m.Value)}, nil
}

// Message converts v back into its wire tuple.
func (v Vote) Message() Message {
	return Message{From: v.From, Phase: v.Phase, Round: v.Round, Value: int(v.Value)}
}

// Tally đếm số phiếu cho mỗi giá trị.
type Tally struct {
	Zero int
	One  int
}

func (t Tally) Count(b Bit) int {
	if b == One {
		return t.One
	}
	return t.Zero
}

func (t Tally) Total() int {
	return t.Zero + t.One
}

// Add records one more vote for b.
func (t *Tally) Add(b Bit) {
	if b == One {
		t.One++
	} else {
		t.Zero++
	}
}

// Outcome describes how an engine run ended.
type Outcome int

const (
	OutcomeDecided Outcome = iota
	OutcomeAborted
	OutcomeFrozen
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDecided:
		return "decided"
	case OutcomeAborted:
		return "aborted"
	default:
		return "frozen"
	}
}

// Broadcaster gửi một phiếu tới mọi node khác (trừ chính mình).
// Delivery is best effort; failures never surface to the caller.
type Broadcaster interface {
	Broadcast(ctx context.Context, v Vote)
}

// VoteLog is the vote storage the engine reads from.
type VoteLog interface {
	Append(v Vote) bool
	Tally(phase Phase, round int) Tally
	Changed() <-chan struct{}
}

// Observer receives engine progress events.
type Observer interface {
	RoundStarted(round int)
	Retried(phase Phase, round int)
	Decided(value Bit, round int)
	Aborted(round int)
}

// Tracer ghi lại từng bước của một lần chạy.
type Tracer interface {
	Info(msg interface{}, a ...interface{})
}
