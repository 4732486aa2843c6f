package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/meta-node-blockchain/ben-or/pkg/logger"
)

// Server phục vụ các endpoint HTTP của một node.
type Server struct {
	httpServer *http.Server
	addr       string
	listener   net.Listener
	ready      chan struct{}
	readyOnce  sync.Once
	mu         sync.Mutex
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 2 * time.Second,
		},
		ready: make(chan struct{}),
	}
}

// Listen mở cổng lắng nghe. Calling it before Serve lets the caller learn the
// bound address when addr uses port 0.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Serve chặn cho tới khi server bị Shutdown. Ready is closed once the
// listener accepts connections.
func (s *Server) Serve() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.readyOnce.Do(func() { close(s.ready) })
	logger.Info("Listening on %s", s.Addr())
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr trả về địa chỉ thực sự đang lắng nghe, hoặc địa chỉ cấu hình nếu chưa Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// SetHandler thay handler; chỉ gọi trước Serve.
func (s *Server) SetHandler(h http.Handler) {
	s.httpServer.Handler = h
}

func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Shutdown dừng server và đóng listener kể cả khi Serve chưa từng chạy.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
	return err
}
