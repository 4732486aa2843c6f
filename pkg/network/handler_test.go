package network

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
	"github.com/meta-node-blockchain/ben-or/pkg/common"
	"github.com/meta-node-blockchain/ben-or/pkg/metrics"
)

// fakeNode ghi lại các lời gọi từ handler.
type fakeNode struct {
	mu      sync.Mutex
	faulty  bool
	killed  bool
	state   benor.State
	msgs    []benor.Message
	started int
}

func (f *fakeNode) ID() int { return 0 }

func (f *fakeNode) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.faulty {
		return common.StatusFaulty
	}
	return common.StatusLive
}

func (f *fakeNode) State() (benor.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.faulty {
		return benor.State{}, benor.ErrFaulty
	}
	s := f.state
	s.Killed = s.Killed || f.killed
	return s, nil
}

func (f *fakeNode) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.faulty {
		return benor.ErrFaulty
	}
	if f.killed {
		return benor.ErrKilled
	}
	f.started++
	return nil
}

func (f *fakeNode) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.faulty {
		return benor.ErrFaulty
	}
	f.killed = true
	return nil
}

func (f *fakeNode) HandleMessage(msg benor.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.faulty {
		return benor.ErrFaulty
	}
	if f.killed {
		return benor.ErrKilled
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeNode) received() []benor.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]benor.Message(nil), f.msgs...)
}

func (f *fakeNode) update(fn func(f *fakeNode)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func serve(t *testing.T, node NodeAPI, limits map[string]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(node, metrics.New(0).Handler(), limits))
	t.Cleanup(srv.Close)
	return srv
}

func request(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestStatusRoute(t *testing.T) {
	live := serve(t, &fakeNode{}, nil)
	code, body := request(t, http.MethodGet, live.URL+"/status", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, "live", body)

	faulty := serve(t, &fakeNode{faulty: true}, nil)
	code, body = request(t, http.MethodGet, faulty.URL+"/status", "")
	assert.Equal(t, 500, code)
	assert.Equal(t, "faulty", body)
}

func TestMessageRoute(t *testing.T) {
	node := &fakeNode{}
	srv := serve(t, node, nil)

	code, body := request(t, http.MethodPost, srv.URL+"/message", `{"from":2,"phase":1,"round":3,"value":1}`)
	assert.Equal(t, 200, code)
	assert.Equal(t, `{"success":true}`, body)
	require.Len(t, node.received(), 1)
	assert.Equal(t, benor.Message{From: 2, Phase: benor.PhaseOne, Round: 3, Value: 1}, node.received()[0])

	// giá trị không phải số nguyên vẫn trả 200, node tự bỏ qua
	code, body = request(t, http.MethodPost, srv.URL+"/message", `{"from":2,"phase":1,"round":3,"value":"1"}`)
	assert.Equal(t, 200, code)
	assert.Equal(t, `{"success":true}`, body)
	require.Len(t, node.received(), 2)
	assert.Equal(t, -1, node.received()[1].Value)

	// from không phải số nguyên không làm hỏng cả request
	code, body = request(t, http.MethodPost, srv.URL+"/message", `{"from":"2","phase":1,"round":3,"value":1}`)
	assert.Equal(t, 200, code)
	assert.Equal(t, `{"success":true}`, body)
	require.Len(t, node.received(), 3)
	assert.Equal(t, benor.Message{From: -1, Phase: benor.PhaseOne, Round: 3, Value: 1}, node.received()[2])

	code, _ = request(t, http.MethodPost, srv.URL+"/message", `{"from":`)
	assert.Equal(t, 400, code)

	code, _ = request(t, http.MethodGet, srv.URL+"/message", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	node.update(func(f *fakeNode) { f.killed = true })
	code, body = request(t, http.MethodPost, srv.URL+"/message", `{"from":2,"phase":1,"round":3,"value":1}`)
	assert.Equal(t, 500, code)
	assert.Equal(t, "faulty", body)
}

func TestMessageRouteRejectsBeforeDecoding(t *testing.T) {
	for name, node := range map[string]*fakeNode{
		"faulty": {faulty: true},
		"killed": {killed: true},
	} {
		t.Run(name, func(t *testing.T) {
			srv := serve(t, node, nil)
			for _, raw := range []string{`{"from":`, `not json`, `{"from":2,"phase":1,"round":3,"value":1}`} {
				code, body := request(t, http.MethodPost, srv.URL+"/message", raw)
				assert.Equal(t, 500, code, raw)
				assert.Equal(t, "faulty", body, raw)
			}
			assert.Empty(t, node.received())
		})
	}
}

func TestStartStopRoutes(t *testing.T) {
	node := &fakeNode{}
	srv := serve(t, node, nil)

	code, body := request(t, http.MethodGet, srv.URL+"/start", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, `{"success":true}`, body)
	node.update(func(f *fakeNode) { assert.Equal(t, 1, f.started) })

	code, body = request(t, http.MethodGet, srv.URL+"/stop", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, `{"success":true}`, body)

	code, body = request(t, http.MethodGet, srv.URL+"/start", "")
	assert.Equal(t, 500, code)
	assert.Equal(t, "faulty", body)

	faulty := serve(t, &fakeNode{faulty: true}, nil)
	code, body = request(t, http.MethodGet, faulty.URL+"/stop", "")
	assert.Equal(t, 500, code)
	assert.Equal(t, "faulty", body)
}

func TestGetStateRoute(t *testing.T) {
	decided := true
	k := 2
	node := &fakeNode{state: benor.State{X: benor.BitOf(benor.Zero), Decided: &decided, K: &k}}
	srv := serve(t, node, nil)

	code, body := request(t, http.MethodGet, srv.URL+"/getState", "")
	assert.Equal(t, 200, code)
	assert.Equal(t, `{"killed":false,"x":0,"decided":true,"k":2}`, body)

	node.update(func(f *fakeNode) { f.state = benor.State{Killed: true, K: &k} })
	_, body = request(t, http.MethodGet, srv.URL+"/getState", "")
	assert.Equal(t, `{"killed":true,"x":null,"decided":null,"k":2}`, body)

	faulty := serve(t, &fakeNode{faulty: true}, nil)
	code, body = request(t, http.MethodGet, faulty.URL+"/getState", "")
	assert.Equal(t, 500, code)
	assert.Equal(t, `{"killed":null,"x":null,"decided":null,"k":null}`, body)
}

func TestRateLimitedMessageRoute(t *testing.T) {
	srv := serve(t, &fakeNode{}, map[string]int{common.RouteMessage: 1})
	msg := `{"from":1,"phase":1,"round":0,"value":0}`

	code, _ := request(t, http.MethodPost, srv.URL+"/message", msg)
	assert.Equal(t, 200, code)
	code, _ = request(t, http.MethodPost, srv.URL+"/message", msg)
	assert.Equal(t, http.StatusTooManyRequests, code)

	// route khác không bị giới hạn
	code, _ = request(t, http.MethodGet, srv.URL+"/status", "")
	assert.Equal(t, 200, code)
}

func TestMetricsRoute(t *testing.T) {
	srv := serve(t, &fakeNode{}, nil)
	code, body := request(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, 200, code)
	assert.Contains(t, body, "benor_rounds_started_total")
}

func TestVoteMessageParsing(t *testing.T) {
	cases := map[string]benor.Message{
		`{"from":1,"phase":2,"round":4,"value":0}`:    {From: 1, Phase: 2, Round: 4, Value: 0},
		`{"from":1,"phase":2,"round":4,"value":1.0}`:  {From: 1, Phase: 2, Round: 4, Value: 1},
		`{"from":1,"phase":2,"round":4,"value":0.5}`:  {From: 1, Phase: 2, Round: 4, Value: -1},
		`{"from":1,"phase":2,"round":4,"value":null}`: {From: 1, Phase: 2, Round: 4, Value: -1},
		`{"from":1,"phase":"2","round":4,"value":1}`:  {From: 1, Phase: -1, Round: 4, Value: 1},
		`{"from":1,"round":4}`:                        {From: 1, Phase: -1, Round: 4, Value: -1},
		`{"from":"2","phase":1,"round":4,"value":1}`:  {From: -1, Phase: 1, Round: 4, Value: 1},
		`{"from":2.5,"phase":1,"round":4,"value":1}`:  {From: -1, Phase: 1, Round: 4, Value: 1},
		`{"from":2,"phase":1,"round":"4","value":1}`:  {From: 2, Phase: 1, Round: -1, Value: 1},
		`{"phase":1,"round":4,"value":1}`:             {From: -1, Phase: 1, Round: 4, Value: 1},
	}
	for raw, want := range cases {
		var m VoteMessage
		require.NoError(t, json.Unmarshal([]byte(raw), &m), raw)
		assert.Equal(t, want, m.Message(), raw)
	}
}

func TestClientAgainstHandler(t *testing.T) {
	decided := false
	k := 0
	node := &fakeNode{state: benor.State{X: benor.BitOf(benor.One), Decided: &decided, K: &k}}
	srv := serve(t, node, nil)
	client := NewClient(srv.URL, time.Second)
	ctx := context.Background()

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "live", status)

	require.NoError(t, client.Start(ctx))
	require.NoError(t, client.SendMessage(ctx, benor.Vote{From: 3, Phase: benor.PhaseTwo, Round: 1, Value: benor.Zero}))
	assert.Equal(t, benor.Message{From: 3, Phase: benor.PhaseTwo, Round: 1, Value: 0}, node.received()[0])

	st, err := client.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, benor.One, *st.State().X)
	assert.False(t, *st.Decided)

	require.NoError(t, client.Stop(ctx))
	assert.ErrorIs(t, client.Start(ctx), benor.ErrFaulty)

	faulty := NewClient(serve(t, &fakeNode{faulty: true}, nil).URL, time.Second)
	status, err = faulty.Status(ctx)
	assert.ErrorIs(t, err, benor.ErrFaulty)
	assert.Equal(t, "faulty", status)

	st, err = faulty.State(ctx)
	assert.ErrorIs(t, err, benor.ErrFaulty)
	assert.Nil(t, st.Killed)
	assert.Nil(t, st.K)
}

func TestBroadcasterSwallowsFailures(t *testing.T) {
	ok := &fakeNode{}
	killed := &fakeNode{killed: true}
	m := metrics.New(0)
	peers := map[int]string{
		0: "127.0.0.1:1", // self, skipped
		1: serve(t, ok, nil).URL,
		2: serve(t, killed, nil).URL,
		3: "127.0.0.1:1", // nothing listens here
	}
	b := NewBroadcaster(0, peers, 500*time.Millisecond, m)
	assert.Equal(t, []int{1, 2, 3}, b.Peers())

	assert.NotPanics(t, func() {
		b.Broadcast(context.Background(), benor.Vote{From: 0, Phase: benor.PhaseOne, Round: 0, Value: benor.One})
	})
	require.Len(t, ok.received(), 1)
	assert.Equal(t, benor.Message{From: 0, Phase: benor.PhaseOne, Round: 0, Value: 1}, ok.received()[0])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BroadcastFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastsTotal.WithLabelValues("1")))
}
