package network

import (
	"encoding/json"
	"math"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
)

// VoteMessage là body JSON của POST /message.
// Every field stays raw so that a non-integer never fails the whole request.
type VoteMessage struct {
	From  json.RawMessage `json:"from"`
	Phase json.RawMessage `json:"phase"`
	Round json.RawMessage `json:"round"`
	Value json.RawMessage `json:"value"`
}

// outgoingVote is the encoded form of a vote sent to peers.
type outgoingVote struct {
	From  int `json:"from"`
	Phase int `json:"phase"`
	Round int `json:"round"`
	Value int `json:"value"`
}

func encodeVote(v benor.Vote) ([]byte, error) {
	return json.Marshal(outgoingVote{From: v.From, Phase: int(v.Phase), Round: v.Round, Value: int(v.Value)})
}

// Message chuyển body thành bộ (from, phase, round, value). A missing or
// non-integer field becomes -1: validation rejects such a phase or value, and
// a round of -1 is never tallied.
func (m VoteMessage) Message() benor.Message {
	return benor.Message{
		From:  rawInt(m.From),
		Phase: benor.Phase(rawInt(m.Phase)),
		Round: rawInt(m.Round),
		Value: rawInt(m.Value),
	}
}

func rawInt(raw json.RawMessage) int {
	var f float64
	if len(raw) == 0 || string(raw) == "null" || json.Unmarshal(raw, &f) != nil {
		return -1
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return -1
	}
	return int(f)
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// StateResponse là body của /getState; mọi trường là null với node lỗi.
type StateResponse struct {
	Killed  *bool `json:"killed"`
	X       *int  `json:"x"`
	Decided *bool `json:"decided"`
	K       *int  `json:"k"`
}

func NewStateResponse(s benor.State) StateResponse {
	killed := s.Killed
	resp := StateResponse{Killed: &killed, Decided: s.Decided, K: s.K}
	if s.X != nil {
		x := int(*s.X)
		resp.X = &x
	}
	return resp
}

// State chuyển ngược về benor.State; Killed null đọc là false.
func (r StateResponse) State() benor.State {
	s := benor.State{Decided: r.Decided, K: r.K}
	if r.Killed != nil {
		s.Killed = *r.Killed
	}
	if r.X != nil {
		s.X = benor.BitOf(benor.Bit(*r.X))
	}
	return s
}
