// Package server contains the main server struct and methods
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/yafengV/CrashParser/api"
	"github.com/yafengV/CrashParser/api/server/routes"
	symcmd "github.com/yafengV/CrashParser/internal/commands/symbolicate"
	"github.com/yafengV/CrashParser/pkg/dsym"
	sym "github.com/yafengV/CrashParser/pkg/symbolicate"
)

// Config is the server config
type Config struct {
	Host   string
	Port   int
	Socket string
	Debug  bool

	Pipeline *symcmd.Config
	Reader   sym.Reader
	Index    *dsym.Index
}

// Server is the main server struct
type Server struct {
	conf   *Config
	router *gin.Engine
	server *http.Server
}

// NewServer creates a new server
func NewServer(conf *Config) *Server {
	if conf.Index == nil {
		conf.Index = dsym.NewIndex()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if conf.Debug {
		router.Use(gin.Logger())
	}
	routes.Add(router.Group("/v"+api.DefaultVersion), &routes.Deps{
		Pipeline: conf.Pipeline,
		Reader:   conf.Reader,
		Index:    conf.Index,
	})
	return &Server{
		conf:   conf,
		router: router,
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) listen() (net.Listener, error) {
	if s.conf.Socket != "" {
		if err := os.MkdirAll(filepath.Dir(s.conf.Socket), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create socket directory: %w", err)
		}
		if err := os.Remove(s.conf.Socket); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
		return net.Listen("unix", s.conf.Socket)
	}
	return net.Listen("tcp", fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port))
}

// Start starts the server and blocks until it is stopped
func (s *Server) Start() error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	log.WithField("addr", ln.Addr().String()).Info("crashsym daemon listening")
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	if s.conf.Socket != "" {
		os.Remove(s.conf.Socket)
	}
	return nil
}
