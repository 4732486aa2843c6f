package votelog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
	"github.com/meta-node-blockchain/ben-or/pkg/storage"
)

var _ benor.VoteLog = (*Log)(nil)

func openLog(t *testing.T, kind string, opts ...Option) *Log {
	t.Helper()
	l, err := Open(kind, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func vote(from int, phase benor.Phase, round int, v benor.Bit) benor.Vote {
	return benor.Vote{From: from, Phase: phase, Round: round, Value: v}
}

func TestTallyPerPhaseAndRound(t *testing.T) {
	for _, kind := range storage.Backends() {
		l := openLog(t, kind)
		assert.True(t, l.Append(vote(1, benor.PhaseOne, 0, benor.One)), kind)
		assert.True(t, l.Append(vote(2, benor.PhaseOne, 0, benor.Zero)), kind)
		assert.True(t, l.Append(vote(3, benor.PhaseOne, 0, benor.One)), kind)
		assert.True(t, l.Append(vote(1, benor.PhaseOne, 1, benor.Zero)), kind)
		assert.True(t, l.Append(vote(1, benor.PhaseTwo, 0, benor.Zero)), kind)

		assert.Equal(t, benor.Tally{Zero: 1, One: 2}, l.Tally(benor.PhaseOne, 0), kind)
		assert.Equal(t, benor.Tally{Zero: 1}, l.Tally(benor.PhaseOne, 1), kind)
		assert.Equal(t, benor.Tally{Zero: 1}, l.Tally(benor.PhaseTwo, 0), kind)
		assert.Equal(t, benor.Tally{}, l.Tally(benor.PhaseTwo, 5), kind)
		assert.Equal(t, 4, l.Len(benor.PhaseOne), kind)
		assert.Equal(t, 1, l.Len(benor.PhaseTwo), kind)
	}
}

func TestNegativeRoundsStaySeparate(t *testing.T) {
	l := openLog(t, storage.STORAGE_TYPE_MEMORY_DB)
	require.True(t, l.Append(vote(1, benor.PhaseOne, -1, benor.One)))
	require.True(t, l.Append(vote(1, benor.PhaseOne, 0, benor.Zero)))

	assert.Equal(t, benor.Tally{One: 1}, l.Tally(benor.PhaseOne, -1))
	assert.Equal(t, benor.Tally{Zero: 1}, l.Tally(benor.PhaseOne, 0))
}

func TestDedupPerSender(t *testing.T) {
	l := openLog(t, storage.STORAGE_TYPE_MEMORY_DB)
	require.True(t, l.Append(vote(1, benor.PhaseOne, 0, benor.One)))
	assert.False(t, l.Append(vote(1, benor.PhaseOne, 0, benor.One)))
	assert.False(t, l.Append(vote(1, benor.PhaseOne, 0, benor.Zero)))
	// cùng sender nhưng khác pha hoặc vòng thì vẫn được ghi
	assert.True(t, l.Append(vote(1, benor.PhaseTwo, 0, benor.One)))
	assert.True(t, l.Append(vote(1, benor.PhaseOne, 1, benor.One)))

	assert.Equal(t, benor.Tally{One: 1}, l.Tally(benor.PhaseOne, 0))
}

func TestAllowDuplicates(t *testing.T) {
	l := openLog(t, storage.STORAGE_TYPE_LEVEL_DB, AllowDuplicates(true))
	for i := 0; i < 3; i++ {
		require.True(t, l.Append(vote(1, benor.PhaseOne, 0, benor.One)))
	}
	assert.Equal(t, benor.Tally{One: 3}, l.Tally(benor.PhaseOne, 0))
}

func TestUnknownPhaseDropped(t *testing.T) {
	l := openLog(t, storage.STORAGE_TYPE_MEMORY_DB)
	assert.False(t, l.Append(vote(1, benor.Phase(3), 0, benor.One)))
	assert.Zero(t, l.Len(benor.Phase(3)))
}

func TestReset(t *testing.T) {
	for _, kind := range storage.Backends() {
		l := openLog(t, kind)
		require.True(t, l.Append(vote(1, benor.PhaseOne, 0, benor.One)), kind)
		require.True(t, l.Append(vote(2, benor.PhaseTwo, 0, benor.One)), kind)

		require.NoError(t, l.Reset(), kind)
		assert.Equal(t, benor.Tally{}, l.Tally(benor.PhaseOne, 0), kind)
		assert.Zero(t, l.Len(benor.PhaseTwo), kind)
		// dedup set is cleared too
		assert.True(t, l.Append(vote(1, benor.PhaseOne, 0, benor.One)), kind)
	}
}

func TestChangedClosesOnAppend(t *testing.T) {
	l := openLog(t, storage.STORAGE_TYPE_MEMORY_DB)
	ch := l.Changed()

	select {
	case <-ch:
		t.Fatal("changed closed before any append")
	default:
	}

	go l.Append(vote(1, benor.PhaseOne, 0, benor.One))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("append did not signal")
	}
	assert.NotEqual(t, ch, l.Changed())

	// a rejected duplicate does not signal
	next := l.Changed()
	l.Append(vote(1, benor.PhaseOne, 0, benor.One))
	select {
	case <-next:
		t.Fatal("duplicate signalled a change")
	default:
	}
}

func TestConcurrentAppend(t *testing.T) {
	l := openLog(t, storage.STORAGE_TYPE_BADGER_DB)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Append(vote(i, benor.PhaseOne, 0, benor.Bit(i%2)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, benor.Tally{Zero: 10, One: 10}, l.Tally(benor.PhaseOne, 0))
	assert.Len(t, l.Votes(benor.PhaseOne, 0), 20)
}
