package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"event-api/broker"
	"event-api/domain"
	"event-api/internal/consts"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

type Config struct {
	WriteTimeout  time.Duration
	PongWait      time.Duration
	PingPeriod    time.Duration
	MaxFrameBytes int64
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:  10 * time.Second,
		PongWait:      60 * time.Second,
		PingPeriod:    54 * time.Second,
		MaxFrameBytes: 64 * 1024,
	}
}

// Deps are the collaborators the endpoints run against.
type Deps struct {
	Registry    *broker.Registry
	Broadcaster *broker.Broadcaster
	Router      *domain.Router
	Ready       []ReadyCheck
	// JournalStats is reported by /api/sessions when set.
	JournalStats func() any
	Logger       *log.Logger
	Config       Config
}

type server struct {
	Deps
	upgrader websocket.Upgrader
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps) {
	if deps.Registry == nil || deps.Broadcaster == nil || deps.Router == nil {
		panic("api.Register: registry, broadcaster and router are required")
	}
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}
	def := DefaultConfig()
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = def.WriteTimeout
	}
	if deps.Config.PongWait <= 0 {
		deps.Config.PongWait = def.PongWait
	}
	if deps.Config.PingPeriod <= 0 || deps.Config.PingPeriod >= deps.Config.PongWait {
		deps.Config.PingPeriod = deps.Config.PongWait * 9 / 10
	}
	if deps.Config.MaxFrameBytes <= 0 {
		deps.Config.MaxFrameBytes = def.MaxFrameBytes
	}

	s := &server{
		Deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	e.GET(consts.WebSocketPath, s.handleWebSocket)
	e.GET("/api/sessions", s.sessionStats)
	e.GET("/healthz", healthz)
	e.GET("/readyz", s.readyz)
}

func healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *server) readyz(c echo.Context) error {
	var failures []string
	for _, check := range s.Ready {
		if check.Check == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		err := check.Check(ctx)
		cancel()
		if err != nil {
			name := check.Name
			if name == "" {
				name = "dependency"
			}
			failures = append(failures, name+": "+err.Error())
		}
	}
	if len(failures) > 0 {
		return c.String(http.StatusServiceUnavailable, strings.Join(failures, "; "))
	}
	return c.String(http.StatusOK, "ok")
}

type sessionStatsResponse struct {
	broker.Stats
	Published  uint64 `json:"eventsPublished"`
	Overflowed uint64 `json:"sessionsOverflowed"`
	Journal    any    `json:"journal,omitempty"`
}

func (s *server) sessionStats(c echo.Context) error {
	resp := sessionStatsResponse{
		Stats:      s.Registry.Stats(),
		Published:  s.Broadcaster.Published(),
		Overflowed: s.Broadcaster.Overflowed(),
	}
	if s.JournalStats != nil {
		resp.Journal = s.JournalStats()
	}
	return c.JSON(http.StatusOK, resp)
}

// handleWebSocket upgrades the request and serves one session until the
// peer goes away. Results are broadcast, never written back directly.
func (s *server) handleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already replied with an HTTP error
		s.Logger.WithError(err).Debug("websocket upgrade failed")
		return nil
	}
	conn := newWSConn(ws, s.Config.WriteTimeout)
	session := s.Registry.Admit(conn)
	logger := s.Logger.WithField("session", session.ID.String())
	logger.Info("session connected")
	defer func() {
		s.Registry.Remove(session)
		logger.Info("session disconnected")
	}()

	go conn.keepalive(session.Done(), s.Config.PingPeriod)

	ws.SetReadLimit(s.Config.MaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.Config.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.Config.PongWait))
	})

	ctx := c.Request().Context()
	for {
		msgType, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Warn("session read failed")
			}
			return nil
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.Config.PongWait))
		s.handleFrame(ctx, session, frame)
	}
}

// handleFrame turns one inbound envelope into exactly one broadcast event.
func (s *server) handleFrame(ctx context.Context, session *broker.Session, frame []byte) {
	metrics, ctx := newCommandMetrics(ctx, s.Logger, session.ID.String())

	var ev domain.Event
	cmd, err := domain.DecodeCommand(frame)
	if err != nil {
		metrics.SetErrorStage("decode")
		ev = domain.ErrorEvent{Message: err.Error(), Code: domain.CodeBadRequest}
	} else {
		metrics.SetCommand(cmd.Type)
		ev = s.Router.Dispatch(ctx, cmd)
	}
	metrics.SetEvent(ev)

	queued, err := s.Broadcaster.Publish(ctx, broker.UsersTopic, ev)
	metrics.SetQueued(queued)
	if err != nil {
		metrics.SetErrorStage("publish")
		metrics.Log(http.StatusInternalServerError, err)
		return
	}
	metrics.Log(statusForEvent(ev), nil)
}
