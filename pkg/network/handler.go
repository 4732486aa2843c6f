package network

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/meta-node-blockchain/ben-or/pkg/benor"
	"github.com/meta-node-blockchain/ben-or/pkg/common"
	"github.com/meta-node-blockchain/ben-or/pkg/logger"
)

// NodeAPI là phần của node mà HTTP handler cần.
type NodeAPI interface {
	ID() int
	Status() string
	State() (benor.State, error)
	Start() error
	Stop() error
	HandleMessage(msg benor.Message) error
}

// Handler chịu trách nhiệm xử lý các request đến dựa trên các route đã đăng ký.
// Nó cũng hỗ trợ giới hạn tần suất (rate limiting) bằng thuật toán token bucket.
type Handler struct {
	node     NodeAPI
	mux      *http.ServeMux
	limiters map[string]*rate.Limiter // limiters ánh xạ route tới một rate limiter.
	mutex    sync.Mutex               // mutex bảo vệ truy cập đồng thời vào map 'limiters'.
}

// NewHandler tạo Handler cho node. limits maps a route path to requests per
// second; zero or missing means unlimited. metrics may be nil.
func NewHandler(node NodeAPI, metrics http.Handler, limits map[string]int) *Handler {
	h := &Handler{
		node:     node,
		mux:      http.NewServeMux(),
		limiters: make(map[string]*rate.Limiter),
	}
	for route, limitPerSecond := range limits {
		if limitPerSecond > 0 {
			h.limiters[route] = rate.NewLimiter(rate.Limit(limitPerSecond), limitPerSecond)
		}
	}

	h.handle("GET "+common.RouteStatus, common.RouteStatus, h.status)
	h.handle("POST "+common.RouteMessage, common.RouteMessage, h.message)
	h.handle("GET "+common.RouteStart, common.RouteStart, h.start)
	h.handle("GET "+common.RouteStop, common.RouteStop, h.stop)
	h.handle("GET "+common.RouteGetState, common.RouteGetState, h.getState)
	if metrics != nil {
		h.handle("GET "+common.RouteMetrics, common.RouteMetrics, metrics.ServeHTTP)
	}
	return h
}

func (h *Handler) handle(pattern, route string, fn http.HandlerFunc) {
	h.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		h.mutex.Lock()
		limiter, exists := h.limiters[route]
		h.mutex.Unlock()
		if exists && !limiter.Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		fn(w, r)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(data)
}

// writeResult maps a lifecycle error onto the wire: faulty or stopped nodes
// answer 500 "faulty".
func (h *Handler) writeResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
	case errors.Is(err, benor.ErrFaulty), errors.Is(err, benor.ErrKilled):
		writeText(w, http.StatusInternalServerError, common.StatusFaulty)
	default:
		logger.Error("Node %d: %v", h.node.ID(), err)
		writeText(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	status := h.node.Status()
	if status == common.StatusFaulty {
		writeText(w, http.StatusInternalServerError, status)
		return
	}
	writeText(w, http.StatusOK, status)
}

func (h *Handler) message(w http.ResponseWriter, r *http.Request) {
	var body VoteMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		// node lỗi hoặc đã dừng từ chối mọi body, kể cả body hỏng
		if s, serr := h.node.State(); serr != nil || s.Killed {
			writeText(w, http.StatusInternalServerError, common.StatusFaulty)
			return
		}
		http.Error(w, "invalid message body", http.StatusBadRequest)
		return
	}
	h.writeResult(w, h.node.HandleMessage(body.Message()))
}

func (h *Handler) start(w http.ResponseWriter, _ *http.Request) {
	h.writeResult(w, h.node.Start())
}

func (h *Handler) stop(w http.ResponseWriter, _ *http.Request) {
	h.writeResult(w, h.node.Stop())
}

func (h *Handler) getState(w http.ResponseWriter, _ *http.Request) {
	s, err := h.node.State()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, StateResponse{})
		return
	}
	writeJSON(w, http.StatusOK, NewStateResponse(s))
}
