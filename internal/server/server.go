// Package server is the TCP caller of the core's Handle entrypoint. It
// owns nothing but connection lifecycle: accept, read length-prefixed
// requests in a loop, hand each body to the handler, write the framed
// reply back. Command semantics live entirely in the System it is given.
package server

import (
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"streamlog/internal/protocol"
	"streamlog/internal/system"
)

type Server struct {
	config Config
	sys    *system.System
	logger *zap.Logger

	quit chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, sys *system.System, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config: cfg,
		sys:    sys,
		logger: logger,
		quit:   make(chan struct{}),
	}
}

// Start blocks, accepting connections until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}

	s.logger.Info("listening", zap.String("addr", s.config.ListenAddr))

	go func() {
		<-s.quit
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				s.logger.Warn("accept failed", zap.Error(err))
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		s.wg.Done()
	}()

	for {
		req, err := protocol.ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("connection closed", zap.Error(err))
			}
			return
		}

		err = func() error {
			defer req.Release()
			return Handle(req.Body, conn, s.sys)
		}()
		if err != nil {
			s.logger.Warn("request failed", zap.Error(err))
			return
		}
	}
}
