// Package chatserver wires the codec, congestion controller, send/receive
// pipelines, registry, dispatcher, fault injector, and admin surface into
// a running chat server (spec §2). The accept loop mirrors moto's
// Listen: a blacklist check followed by a go-cache backed per-IP request
// counter, the WAF pattern controller.Listen uses.
package chatserver

import (
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatrelay/adminsrv"
	"chatrelay/config"
	"chatrelay/congestion"
	"chatrelay/dispatch"
	"chatrelay/fault"
	"chatrelay/protocol"
	"chatrelay/recvpipe"
	"chatrelay/registry"
	"chatrelay/sendpipe"
	"chatrelay/utils"
)

const sendTickInterval = 100 * time.Millisecond

// Server is a fully wired chat server instance.
type Server struct {
	cfg *config.ServerSettings

	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	injector   *fault.Injector
	stats      *adminsrv.Stats
	supervisor *registry.Supervisor
	admin      *adminsrv.Server

	ipCounter *cache.Cache

	logger *zap.Logger

	mu         sync.Mutex
	running    bool
	shutdownCh chan struct{}
	shutdownOnce sync.Once
}

// New wires a Server from cfg. Logging follows utils.Logger unless cfg
// requests a rebuild via utils.Reconfigure beforehand.
func New(cfg *config.ServerSettings) *Server {
	reg := registry.New()
	disp := dispatch.New(reg)
	injector := fault.New()
	injector.Configure(cfg.PacketLossRate, time.Duration(cfg.ArtificialDelayMillis)*time.Millisecond)

	stats := adminsrv.NewStats()
	admin := adminsrv.New(reg, disp, injector, stats, utils.Logger)

	return &Server{
		cfg:        cfg,
		registry:   reg,
		dispatcher: disp,
		injector:   injector,
		stats:      stats,
		supervisor: registry.NewSupervisor(reg),
		admin:      admin,
		ipCounter:  cache.New(30*time.Second, time.Minute),
		logger:     utils.Logger,
		shutdownCh: make(chan struct{}),
	}
}

// Registry exposes the connection table so cmd/chatserver can register a
// registry.MetricsCollector against it without chatserver importing
// net/http itself.
func (s *Server) Registry() *registry.Registry { return s.registry }

// requestShutdown triggers Run to unwind, idempotently. Called from the
// admin "shutdown" command.
func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Run listens on cfg.Listen and cfg.AdminListen until stop is closed, then
// tears every subsystem down and returns the aggregated shutdown error
// (go.uber.org/multierr, mirroring the way a supervising errgroup collects
// per-goroutine failures).
func (s *Server) Run(stop <-chan struct{}) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	chatLn, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	adminLn, err := net.Listen("tcp", s.cfg.AdminListen)
	if err != nil {
		_ = chatLn.Close()
		return err
	}
	s.admin.Shutdown = s.requestShutdown

	combined := make(chan struct{})
	go func() {
		defer close(combined)
		select {
		case <-stop:
		case <-s.shutdownCh:
		}
	}()

	s.logger.Info("chatrelay listening", zap.String("chat", s.cfg.Listen), zap.String("admin", s.cfg.AdminListen))

	var group errgroup.Group
	group.Go(func() error {
		s.acceptLoop(chatLn, combined)
		return nil
	})
	group.Go(func() error {
		s.admin.Serve(adminLn, combined)
		return nil
	})
	group.Go(func() error {
		s.supervisor.Run(combined)
		return nil
	})

	<-combined
	var shutdownErr error
	shutdownErr = multierr.Append(shutdownErr, chatLn.Close())
	// admin.Serve also closes adminLn once combined is closed, so an
	// already-closed listener is not a shutdown error.
	if err := adminLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		shutdownErr = multierr.Append(shutdownErr, err)
	}

	s.registry.Range(func(c *registry.Connection) bool {
		c.Close()
		return true
	})

	if err := group.Wait(); err != nil {
		shutdownErr = multierr.Append(shutdownErr, err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return shutdownErr
}

func (s *Server) acceptLoop(ln net.Listener, stop <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				s.logger.Error("chat accept failed", zap.Error(err))
				return
			}
		}
		if !s.admitConnection(conn) {
			continue
		}
		go s.serveConnection(conn)
	}
}

// admitConnection applies the blacklist and then the per-IP WAF counter,
// mirroring moto's Listen: reject outright if blacklisted, else bump a
// per-IP counter whose 30s window starts at that IP's first admitted
// connection, and reject once it reaches MaxConnsPerIPPer30s.
func (s *Server) admitConnection(conn net.Conn) bool {
	ip := hostOf(conn.RemoteAddr().String())

	if len(s.cfg.Blacklist) != 0 && s.cfg.Blacklist[ip] {
		s.logger.Info("rejecting blacklisted ip", zap.String("ip", ip))
		_ = conn.Close()
		return false
	}

	if count, found := s.ipCounter.Get(ip); found && count.(int) >= s.cfg.MaxConnsPerIPPer30s {
		s.logger.Warn("WAF: too many connections from ip", zap.String("ip", ip))
		_ = conn.Close()
		return false
	} else if found {
		_ = s.ipCounter.Increment(ip, 1)
	} else {
		s.ipCounter.Set(ip, 1, cache.DefaultExpiration)
	}
	return true
}

func hostOf(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// serveConnection runs one connection's receive driver and send driver as
// an errgroup pair: either one returning ends the connection, and the
// group's Wait blocks until both have observed the close (domain-stack
// note: a driver's fatal error deterministically tears down its sibling
// without a second signaling channel beyond Connection.Done).
func (s *Server) serveConnection(conn net.Conn) {
	id := protocol.NewClientID()
	controller := congestion.New()
	pipe := sendpipe.New(conn, controller, id)
	sendpipe.SetLogger(s.logger)

	onClose := func(c *registry.Connection) {
		s.registry.Remove(c.ID)
		if name := c.Username(); name != "" {
			s.dispatcher.BroadcastNotice("*** "+name+" left ***", "")
			s.logger.Info("client left", zap.String("client_id", c.ID), zap.String("username", name))
		}
	}

	conn2 := registry.New(id, conn.RemoteAddr().String(), conn, controller, pipe, onClose)
	pipe.OnAbandonedClose = conn2.Close
	s.registry.Add(conn2)

	handler := newConnHandler(conn2, s.dispatcher, s.logger)
	recv := recvpipe.New(conn, pipe, handler, s.injector, protocol.ServerSender, id, s.logger)
	conn2.SetRecvPipe(recv)

	var group errgroup.Group
	group.Go(func() error {
		err := recv.Run(conn2.Done())
		conn2.Close() // unblocks the send driver via Connection.Done
		return err
	})
	group.Go(func() error {
		s.runSendTicker(conn2)
		return nil
	})

	_ = group.Wait()
}

func (s *Server) runSendTicker(c *registry.Connection) {
	ticker := time.NewTicker(sendTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Done():
			return
		case <-ticker.C:
			c.SendPipe.Tick(time.Now())
		}
	}
}
