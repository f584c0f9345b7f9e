// Package daemon provides the daemon interface and implementation.
package daemon

import (
	"io"
	"sync"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/yafengV/CrashParser/api/server"
	"github.com/yafengV/CrashParser/internal/commands/symbolicate"
	"github.com/yafengV/CrashParser/internal/config"
)

// Daemon is the interface that describes a crashsym daemon.
type Daemon interface {
	// Start starts the daemon.
	Start() error
	// Stop stops the daemon.
	Stop() error
}

type daemon struct {
	mu     sync.Mutex
	server *server.Server
	closer io.Closer
	conf   *config.Config
}

// NewDaemon creates a new daemon.
func NewDaemon(conf *config.Config) Daemon {
	return &daemon{conf: conf}
}

func (d *daemon) Start() error {
	if d.conf.Daemon.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	idx, err := symbolicate.BuildIndex(d.conf.DSYM.Dirs, d.conf.DSYM.Archives, d.conf.DSYM.Map)
	if err != nil {
		return err
	}
	log.WithField("uuids", idx.Len()).Info("indexed debug symbols")

	reader, closer := symbolicate.NewReader(d.conf)

	srv := server.NewServer(&server.Config{
		Host:     d.conf.Daemon.Host,
		Port:     d.conf.Daemon.Port,
		Socket:   d.conf.Daemon.Socket,
		Debug:    d.conf.Daemon.Debug,
		Pipeline: symbolicate.NewConfig(d.conf),
		Reader:   reader,
		Index:    idx,
	})
	d.mu.Lock()
	d.server, d.closer = srv, closer
	d.mu.Unlock()
	return srv.Start()
}

func (d *daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server == nil {
		return nil
	}
	err := d.server.Stop()
	if d.closer != nil {
		if cerr := d.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
