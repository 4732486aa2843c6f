package votelog

import (
	"fmt"
	"sync"

	"github.com/near/borsh-go"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
	"github.com/meta-node-blockchain/ben-or/pkg/logger"
	"github.com/meta-node-blockchain/ben-or/pkg/storage"
	"github.com/meta-node-blockchain/ben-or/pkg/utils"
)

// record là phần giá trị lưu trong store; phase và round nằm trong key.
type record struct {
	Sender int64
	Value  uint8
}

type seenKey struct {
	phase  benor.Phase
	sender int
	round  int
}

// Log lưu các phiếu đã nhận của một node, tách theo pha và đánh chỉ mục theo vòng.
//
// Key layout: phase(1) | round(8, sortable) | seq(8). Votes of one round are
// therefore contiguous and a tally is a single prefix scan.
type Log struct {
	mu         sync.Mutex
	db         storage.Storage
	duplicates bool
	seen       map[seenKey]struct{}
	seq        uint64
	lens       map[benor.Phase]int
	changed    chan struct{}
}

type Option func(*Log)

// AllowDuplicates makes the log count every delivered copy of a vote.
func AllowDuplicates(allow bool) Option {
	return func(l *Log) { l.duplicates = allow }
}

func New(db storage.Storage, opts ...Option) *Log {
	l := &Log{
		db:      db,
		seen:    make(map[seenKey]struct{}),
		lens:    make(map[benor.Phase]int),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open tạo Log trên backend có tên kind.
func Open(kind string, opts ...Option) (*Log, error) {
	db, err := storage.Open(kind)
	if err != nil {
		return nil, fmt.Errorf("open vote store: %w", err)
	}
	return New(db, opts...), nil
}

func roundPrefix(phase benor.Phase, round int) []byte {
	key := make([]byte, 0, 17)
	key = append(key, byte(phase))
	return append(key, utils.Int64ToSortableBytes(int64(round))...)
}

// Append ghi nhận v. It returns false when v was dropped: unknown phase,
// a repeat of an already counted (phase, sender, round), or a store failure.
func (l *Log) Append(v benor.Vote) bool {
	if !v.Phase.Valid() {
		return false
	}
	value, err := borsh.Serialize(record{Sender: int64(v.From), Value: uint8(v.Value)})
	if err != nil {
		logger.Error("votelog: encode vote from %d: %v", v.From, err)
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	sk := seenKey{phase: v.Phase, sender: v.From, round: v.Round}
	if !l.duplicates {
		if _, dup := l.seen[sk]; dup {
			return false
		}
	}
	l.seq++
	key := append(roundPrefix(v.Phase, v.Round), utils.Uint64ToBytes(l.seq)...)
	if err := l.db.Put(key, value); err != nil {
		logger.Error("votelog: store vote from %d: %v", v.From, err)
		return false
	}
	l.seen[sk] = struct{}{}
	l.lens[v.Phase]++
	l.notify()
	return true
}

func (l *Log) notify() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// Changed returns a channel closed on the next successful Append or Reset.
func (l *Log) Changed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changed
}

// Votes trả về các phiếu của pha phase tại vòng round theo thứ tự nhận.
func (l *Log) Votes(phase benor.Phase, round int) []benor.Vote {
	var votes []benor.Vote
	err := l.db.Iterate(roundPrefix(phase, round), func(_, value []byte) error {
		var r record
		if err := borsh.Deserialize(&r, value); err != nil {
			return err
		}
		votes = append(votes, benor.Vote{From: int(r.Sender), Phase: phase, Round: round, Value: benor.Bit(r.Value)})
		return nil
	})
	if err != nil {
		logger.Error("votelog: scan %s round %d: %v", phase, round, err)
	}
	return votes
}

func (l *Log) Tally(phase benor.Phase, round int) benor.Tally {
	var t benor.Tally
	for _, v := range l.Votes(phase, round) {
		t.Add(v.Value)
	}
	return t
}

// Len is the number of votes recorded for phase across all rounds.
func (l *Log) Len(phase benor.Phase) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lens[phase]
}

// Reset xoá sạch cả hai pha cùng tập dedup.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.Clear(); err != nil {
		return fmt.Errorf("clear vote store: %w", err)
	}
	l.seen = make(map[seenKey]struct{})
	l.lens = make(map[benor.Phase]int)
	l.seq = 0
	l.notify()
	return nil
}

func (l *Log) Close() error {
	return l.db.Close()
}
