package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MeKo-Tech/emeter/internal/jobs"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StatusMessage is pushed to websocket clients on every status change.
type StatusMessage struct {
	Type   string   `json:"type"`
	ID     string   `json:"uuid"`
	Status string   `json:"status,omitempty"`
	Values []string `json:"values,omitempty"`
	Detail string   `json:"detail,omitempty"`
}

// wsConn is the subset of *websocket.Conn used to push messages.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// statusWebSocketHandler pushes status changes of one job until it reaches a
// terminal state, the job disappears or the client goes away.
func (s *Server) statusWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]
	if _, err := s.jobs.CheckStatus(id); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	s.logger.Debug("Status WebSocket opened", "job_id", id, "remote_addr", r.RemoteAddr)

	gone := make(chan struct{})
	go s.readPump(conn, gone)

	s.pushStatus(conn, id, gone)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
}

// readPump drains client frames so control messages are processed and
// closes gone when the client disconnects.
func (s *Server) readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("WebSocket read failed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
	}
}

// pushStatus polls the job and sends a message whenever its status changes.
func (s *Server) pushStatus(conn *websocket.Conn, id string, gone <-chan struct{}) {
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	last := ""
	for {
		done, err := s.sendIfChanged(conn, id, &last)
		if err != nil || done {
			return
		}
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-poll.C:
		}
	}
}

// sendIfChanged reports done once a terminal message has been sent.
func (s *Server) sendIfChanged(conn wsConn, id string, last *string) (bool, error) {
	res, err := s.jobs.CheckStatus(id)
	if err != nil {
		msg := StatusMessage{Type: "error", ID: id, Detail: jobs.MsgImageNotFound}
		var nf *jobs.NotFoundError
		if errors.As(err, &nf) {
			msg.Detail = nf.Message
		}
		return true, s.sendWebSocketMessage(conn, msg)
	}
	if res.Status == *last {
		return false, nil
	}
	*last = res.Status

	msg := StatusMessage{Type: "status", ID: id, Status: res.Status}
	terminal := res.Status == jobs.StatusProcessed || res.Status == jobs.StatusFailed
	if res.Status == jobs.StatusProcessed {
		if values, err := s.jobs.GetValues(id); err == nil {
			msg.Values = values
		}
	}
	return terminal, s.sendWebSocketMessage(conn, msg)
}

func (s *Server) sendWebSocketMessage(conn wsConn, msg StatusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Failed to send WebSocket message", "error", err)
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}
