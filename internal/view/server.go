package view

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/dwalbeck/job-track-now-portal/internal/session"
)

const (
	pingEvery   = 30 * time.Second
	pongTimeout = 60 * time.Second
	writeWait   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Local companion app; the browser view runs on another port.
		return true
	},
}

// Controller is the session surface the view drives.
type Controller interface {
	Snapshot() session.Snapshot
	SetOnChange(func(session.Snapshot))
	Play()
	Pause()
	Stop()
	StopRecording()
	Exit()
	ConfirmMicTest()
	RetryQuestion()
	SkipQuestion()
}

// command is an inbound control frame from the view.
type command struct {
	Action string `json:"action"`
}

// Server exposes the interview over HTTP: a health probe and a websocket that
// streams session snapshots out and accepts control commands in.
type Server struct {
	e      *echo.Echo
	sess   Controller
	logger *zap.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]chan session.Snapshot
}

// New builds the server and subscribes it to session changes.
func New(sess Controller, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sess:   sess,
		logger: logger,
		conns:  make(map[*websocket.Conn]chan session.Snapshot),
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/ws", s.handleWS)
	s.e = e
	sess.SetOnChange(s.Broadcast)
	return s
}

// Handler exposes the route tree.
func (s *Server) Handler() http.Handler { return s.e }

// Start blocks serving on addr.
func (s *Server) Start(addr string) error { return s.e.Start(addr) }

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// Broadcast pushes a snapshot to every connected view. Slow consumers drop
// frames rather than stalling the session.
func (s *Server) Broadcast(snap session.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.conns {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	out := make(chan session.Snapshot, 16)
	s.mu.Lock()
	s.conns[conn] = out
	s.mu.Unlock()
	s.logger.Info("view connected", zap.String("remote", conn.RemoteAddr().String()))

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		close(out)
		conn.Close()
		s.logger.Info("view disconnected")
	}()

	go s.writeLoop(conn, out)

	// Current state first, so a reconnecting view catches up immediately.
	out <- s.sess.Snapshot()

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Warn("bad control frame", zap.Error(err))
			continue
		}
		s.dispatch(cmd.Action)
	}
}

// writeLoop is the connection's single writer: snapshots plus keepalive pings.
func (s *Server) writeLoop(conn *websocket.Conn, out <-chan session.Snapshot) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case snap, ok := <-out:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(action string) {
	switch action {
	case "play":
		s.sess.Play()
	case "pause":
		s.sess.Pause()
	case "stop":
		s.sess.Stop()
	case "rec":
		s.sess.StopRecording()
	case "exit":
		s.sess.Exit()
	case "confirm_mic":
		s.sess.ConfirmMicTest()
	case "retry":
		s.sess.RetryQuestion()
	case "skip":
		s.sess.SkipQuestion()
	default:
		s.logger.Warn("unknown control action", zap.String("action", action))
	}
}
