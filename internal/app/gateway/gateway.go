// Package gateway is the websocket front door: it keeps client connections,
// maps them to rooms and turns inbound events into coordinator commands.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fixit-services/dispatch/internal/app/lifecycle"
	"github.com/fixit-services/dispatch/internal/shared/contracts"
	"github.com/fixit-services/dispatch/internal/shared/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Commands is the coordinator surface driven by inbound events.
type Commands interface {
	Accept(ctx context.Context, jobID, workerID, connID string) (lifecycle.AcceptResult, error)
	Decline(ctx context.Context, jobID, workerID, reason string) error
	Start(ctx context.Context, jobID, workerID string) (contracts.JobTransition, error)
	UpdateLocation(ctx context.Context, jobID, workerID string, lat, lng float64) (contracts.WorkerLocationUpdate, error)
	Complete(ctx context.Context, jobID, workerID string) (contracts.JobTransition, error)
	ShareCustomerLocation(ctx context.Context, jobID, userID string, lat, lng float64) (contracts.LocationUpdate, error)
	Chat(ctx context.Context, jobID, sender, message string) (contracts.ChatMessage, error)
}

// DisconnectHook runs after a connection is gone.
type DisconnectHook func(ctx context.Context, connID string)

// Options tunes per-connection limits.
type Options struct {
	SendBuffer        int
	MessagesPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

// Gateway upgrades HTTP requests and serves each connection until it drops.
type Gateway struct {
	hub      *Hub
	cmds     Commands
	logger   *logger.Logger
	opts     Options
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	hooks []DisconnectHook
}

func New(hub *Hub, cmds Commands, logger *logger.Logger, opts Options) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 40
	}

	g := &Gateway{hub: hub, cmds: cmds, logger: logger, opts: opts}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// OnDisconnect registers a hook called once per dropped connection.
func (g *Gateway) OnDisconnect(h DisconnectHook) {
	g.mu.Lock()
	g.hooks = append(g.hooks, h)
	g.mu.Unlock()
}

// Close drops every connection held by this instance.
func (g *Gateway) Close() {
	g.hub.closeAll()
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range g.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and blocks for the life of the connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error(r.Context(), "ws_upgrade_failed", "Failed to upgrade websocket connection", err)
		return
	}

	c := newConn(uuid.NewString(), ws, g.opts.SendBuffer, rate.NewLimiter(rate.Limit(g.opts.MessagesPerSecond), g.opts.Burst))
	ctx := g.logger.WithRequestID(context.WithoutCancel(r.Context()), "conn-"+c.id)

	g.hub.add(c)
	g.logger.Info(ctx, "ws_connected", "Client connected", map[string]any{
		"conn_id": c.id,
		"remote":  r.RemoteAddr,
		"total":   g.hub.ConnCount(),
	})

	go c.writePump()
	g.readPump(ctx, c)

	c.close()
	g.hub.remove(c)

	g.mu.RLock()
	hooks := append([]DisconnectHook(nil), g.hooks...)
	g.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, c.id)
	}

	g.logger.Info(ctx, "ws_disconnected", "Client disconnected", map[string]any{
		"conn_id":   c.id,
		"remaining": g.hub.ConnCount(),
	})
}

func (g *Gateway) readPump(ctx context.Context, c *Conn) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.logger.Warn(ctx, "ws_read_failed", "Websocket read error", map[string]any{"conn_id": c.id, "error": err.Error()})
			}
			return
		}

		if !c.limiter.Allow() {
			g.reply(c, contracts.EventError, contracts.CommandResult{Code: "rate_limited", Message: "too many messages"})
			continue
		}

		var env contracts.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			g.reply(c, contracts.EventError, contracts.CommandResult{Code: string(lifecycle.KindValidation), Message: "malformed message"})
			continue
		}

		g.dispatch(ctx, c, env)
	}
}

// dispatch routes one inbound event. Commands for one connection run in
// arrival order.
func (g *Gateway) dispatch(ctx context.Context, c *Conn, env contracts.Envelope) {
	switch env.Event {
	case contracts.EventJoinWorkerRoom, contracts.EventJoinUserRoom, contracts.EventJoinJobRoom, contracts.EventLeaveJobRoom:
		g.handleRoom(ctx, c, env)

	case contracts.EventAcceptJob:
		var req contracts.JobActionRequest
		if !g.decode(c, env, &req) {
			return
		}
		res, err := g.cmds.Accept(ctx, req.JobID, req.WorkerID, c.id)
		if err == nil {
			g.hub.Join(c, contracts.JobRoom(req.JobID))
		}
		g.result(ctx, c, env.Event, req.JobID, res, err)

	case contracts.EventDeclineJob:
		var req contracts.DeclineJobRequest
		if !g.decode(c, env, &req) {
			return
		}
		err := g.cmds.Decline(ctx, req.JobID, req.WorkerID, req.Reason)
		g.result(ctx, c, env.Event, req.JobID, nil, err)

	case contracts.EventStartJob:
		var req contracts.JobActionRequest
		if !g.decode(c, env, &req) {
			return
		}
		tr, err := g.cmds.Start(ctx, req.JobID, req.WorkerID)
		g.result(ctx, c, env.Event, req.JobID, tr, err)

	case contracts.EventUpdateLocation:
		var req contracts.UpdateLocationRequest
		if !g.decode(c, env, &req) {
			return
		}
		if req.Lat == nil || req.Lng == nil {
			g.result(ctx, c, env.Event, req.JobID, nil, &lifecycle.Rejection{Kind: lifecycle.KindValidation, Reason: "lat and lng are required"})
			return
		}
		upd, err := g.cmds.UpdateLocation(ctx, req.JobID, req.WorkerID, *req.Lat, *req.Lng)
		g.result(ctx, c, env.Event, req.JobID, upd, err)

	case contracts.EventUserLocation:
		var req contracts.UserLocationRequest
		if !g.decode(c, env, &req) {
			return
		}
		if req.Lat == nil || req.Lng == nil {
			g.result(ctx, c, env.Event, req.JobID, nil, &lifecycle.Rejection{Kind: lifecycle.KindValidation, Reason: "lat and lng are required"})
			return
		}
		upd, err := g.cmds.ShareCustomerLocation(ctx, req.JobID, req.UserID, *req.Lat, *req.Lng)
		g.result(ctx, c, env.Event, req.JobID, upd, err)

	case contracts.EventJobChat:
		var req contracts.ChatRequest
		if !g.decode(c, env, &req) {
			return
		}
		msg, err := g.cmds.Chat(ctx, req.JobID, req.Sender, req.Message)
		g.result(ctx, c, env.Event, req.JobID, msg, err)

	case contracts.EventCompleteJob:
		var req contracts.JobActionRequest
		if !g.decode(c, env, &req) {
			return
		}
		tr, err := g.cmds.Complete(ctx, req.JobID, req.WorkerID)
		if err == nil {
			g.hub.Leave(c, contracts.JobRoom(req.JobID))
		}
		g.result(ctx, c, env.Event, req.JobID, tr, err)

	default:
		g.reply(c, contracts.EventError, contracts.CommandResult{Code: "unknown_event", Message: "unknown event " + env.Event})
	}
}

func (g *Gateway) handleRoom(ctx context.Context, c *Conn, env contracts.Envelope) {
	var req contracts.JoinRoomRequest
	if !g.decode(c, env, &req) {
		return
	}

	var room, id string
	switch env.Event {
	case contracts.EventJoinWorkerRoom:
		id, room = req.WorkerID, contracts.WorkerRoom(req.WorkerID)
	case contracts.EventJoinUserRoom:
		id, room = req.UserID, contracts.UserRoom(req.UserID)
	default:
		id, room = req.JobID, contracts.JobRoom(req.JobID)
	}
	if strings.TrimSpace(id) == "" {
		g.reply(c, contracts.ResultEvent(env.Event), contracts.CommandResult{Code: string(lifecycle.KindValidation), Message: "id is required"})
		return
	}

	if env.Event == contracts.EventLeaveJobRoom {
		g.hub.Leave(c, room)
		g.reply(c, contracts.ResultEvent(env.Event), contracts.CommandResult{Success: true, JobID: req.JobID})
		return
	}

	g.hub.Join(c, room)
	g.reply(c, contracts.EventRoomJoined, map[string]string{"room": room})
	g.logger.Debug(ctx, "room_joined", "Connection joined room", map[string]any{"conn_id": c.id, "room": room})
}

func (g *Gateway) decode(c *Conn, env contracts.Envelope, dst any) bool {
	if len(env.Data) == 0 {
		g.reply(c, contracts.ResultEvent(env.Event), contracts.CommandResult{Code: string(lifecycle.KindValidation), Message: "missing payload"})
		return false
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		g.reply(c, contracts.ResultEvent(env.Event), contracts.CommandResult{Code: string(lifecycle.KindValidation), Message: "invalid payload"})
		return false
	}
	return true
}

// result answers a command on the issuing connection. Store failures are
// logged in full and reported without detail.
func (g *Gateway) result(ctx context.Context, c *Conn, event, jobID string, data any, err error) {
	out := contracts.CommandResult{Success: err == nil, JobID: jobID}

	var rej *lifecycle.Rejection
	switch {
	case err == nil:
		out.Data = data
	case errors.As(err, &rej):
		out.Code = string(rej.Kind)
		out.Message = rej.Reason
	default:
		g.logger.Error(ctx, "command_failed", event+" failed", err)
		out.Code = "internal"
		out.Message = "temporarily unable to process request"
	}

	g.reply(c, contracts.ResultEvent(event), out)
}

func (g *Gateway) reply(c *Conn, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return
	}
	c.enqueue(frame)
}
