package adminsrv

import (
	"encoding/json"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"chatrelay/dispatch"
	"chatrelay/fault"
	"chatrelay/registry"
)

// Server answers admin connections on a separate listener (§4.8). It reads
// the registry and mutates the fault injector under the same discipline
// any external reader uses (§5): Range/Snapshot, never direct field
// access.
type Server struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	injector   *fault.Injector
	stats      *Stats
	logger     *zap.Logger

	// Shutdown is started in its own goroutine when a shutdown command is
	// handled, so it runs concurrently with writing the {"ok": true}
	// response; the response is not guaranteed to be written before
	// teardown begins. Left nil it is a no-op.
	Shutdown func()
}

// New returns a Server wired to the given collaborators.
func New(reg *registry.Registry, disp *dispatch.Dispatcher, injector *fault.Injector, stats *Stats, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{registry: reg, dispatcher: disp, injector: injector, stats: stats, logger: logger}
}

// Serve accepts admin connections on ln until stop is closed.
func (s *Server) Serve(ln net.Listener, stop <-chan struct{}) {
	go func() {
		<-stop
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				s.logger.Error("admin accept failed", zap.Error(err))
				return
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		req, err := readRequest(conn)
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("admin connection closing", zap.Error(err))
			}
			return
		}
		resp := s.dispatchCommand(req)
		if err := writeResponse(conn, resp); err != nil {
			s.logger.Debug("admin write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatchCommand(req *Request) Response {
	switch req.Command {
	case "get_stats":
		return s.handleGetStats()
	case "get_clients":
		return s.handleGetClients()
	case "kick_client":
		return s.handleKickClient(req.Params)
	case "broadcast":
		return s.handleBroadcast(req.Params)
	case "set_network_sim":
		return s.handleSetNetworkSim(req.Params)
	case "shutdown":
		return s.handleShutdown()
	default:
		return errorResponse("unknown command %q", req.Command)
	}
}

func (s *Server) handleGetStats() Response {
	details := make(map[string]any)
	var totalMessages, bytesTransferred int64
	s.registry.Range(func(c *registry.Connection) bool {
		stats := c.Stats()
		details[c.ID] = map[string]any{
			"username":          c.Username(),
			"address":           c.RemoteAddr,
			"congestion_window": c.Controller.Cwnd,
			"rto":               c.Controller.RTO().Seconds(),
			"pending_messages":  c.SendPipe.PendingCount(),
			"state":             string(c.Controller.State),
			"bytes_sent":        stats.BytesSent,
			"bytes_received":    stats.BytesReceived,
			"messages_sent":     stats.MessagesSent,
			"messages_received": stats.MessagesReceived,
			"acks_sent":         stats.AcksSent,
			"acks_received":     stats.AcksReceived,
			"retransmissions":   stats.Retransmissions,
			"checksum_errors":   stats.ChecksumErrors,
		}
		totalMessages += stats.MessagesSent + stats.MessagesReceived + stats.AcksSent + stats.AcksReceived
		bytesTransferred += stats.BytesSent + stats.BytesReceived
		return true
	})

	resp := Response{
		"connected_clients": s.registry.Count(),
		"client_details":    details,
		"total_messages":    totalMessages,
		"bytes_transferred": bytesTransferred,
	}
	if s.stats != nil {
		resp["uptime"] = s.stats.Uptime().Seconds()
	}
	return resp
}

func (s *Server) handleGetClients() Response {
	clients := make([]map[string]any, 0, s.registry.Count())
	s.registry.Range(func(c *registry.Connection) bool {
		clients = append(clients, map[string]any{
			"id":       c.ID,
			"username": c.Username(),
			"address":  c.RemoteAddr,
		})
		return true
	})
	return Response{"clients": clients}
}

type clientIDParams struct {
	ClientID string `json:"client_id"`
}

func (s *Server) handleKickClient(params json.RawMessage) Response {
	var p clientIDParams
	if err := json.Unmarshal(params, &p); err != nil || p.ClientID == "" {
		return errorResponse("missing client_id")
	}
	c, ok := s.registry.Get(p.ClientID)
	if !ok {
		return errorResponse("unknown client_id %q", p.ClientID)
	}
	c.Close()
	return Response{"ok": true}
}

type broadcastParams struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(params json.RawMessage) Response {
	var p broadcastParams
	if err := json.Unmarshal(params, &p); err != nil || p.Message == "" {
		return errorResponse("missing message")
	}
	s.dispatcher.BroadcastNotice(p.Message, "")
	return Response{"ok": true}
}

type networkSimParams struct {
	PacketLossRate float64 `json:"packet_loss_rate"`
	Delay          float64 `json:"delay"`
}

func (s *Server) handleSetNetworkSim(params json.RawMessage) Response {
	var p networkSimParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errorResponse("malformed params: %v", err)
	}
	s.injector.Configure(p.PacketLossRate, time.Duration(p.Delay*float64(time.Second)))
	return Response{"ok": true}
}

func (s *Server) handleShutdown() Response {
	if s.Shutdown != nil {
		go s.Shutdown()
	}
	return Response{"ok": true}
}
