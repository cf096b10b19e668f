package policy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// Server implements the Postfix policy delegation protocol
type Server struct {
	service     *core.CheckService
	logger      *zap.Logger
	listenAddr  string
	readTimeout time.Duration
	header      string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a new policy server
func NewServer(
	service *core.CheckService,
	logger *zap.Logger,
	listenAddr string,
	readTimeout time.Duration,
	header string,
) *Server {
	if header == "" {
		header = "X-Policy-Checks"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		service:     service,
		logger:      logger,
		listenAddr:  listenAddr,
		readTimeout: readTimeout,
		header:      header,
		ctx:         ctx,
		cancel:      cancel,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Evaluate runs every check against the request
func (s *Server) Evaluate(ctx context.Context, req core.Request) ([]core.CheckResult, error) {
	return s.service.CheckAll(ctx, req), nil
}

// Start starts listening and serves connections in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Policy server starting", zap.String("address", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, cancelling running checks
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Accept failed", zap.Error(err))
			continue
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	logger := s.logger.With(
		zap.String("session", uuid.NewString()),
		zap.String("remote", conn.RemoteAddr().String()))

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	logger.Debug("Connection opened")

	sc := NewScanner(conn)
	w := bufio.NewWriter(conn)
	for {
		if s.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		req, err := ReadRequest(sc)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), s.ctx.Err() != nil:
				logger.Debug("Connection closed")
			case errors.Is(err, ErrMalformed):
				logger.Warn("Malformed request, closing connection", zap.Error(err))
			default:
				logger.Info("Failed to read request", zap.Error(err))
			}
			return
		}

		start := time.Now()
		results, _ := s.Evaluate(s.ctx, req)
		action := FormatAction(s.header, results)

		logger.Info("Processed request",
			zap.String("client_address", req.Get(core.FieldClientAddress)),
			zap.String("sender", req.Get(core.FieldSender)),
			zap.String("recipient", req.Get(core.FieldRecipient)),
			zap.String("action", action),
			zap.Duration("elapsed", time.Since(start)))

		err = WriteResponse(w, action)
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			logger.Info("Failed to write response", zap.Error(err))
			return
		}
	}
}
