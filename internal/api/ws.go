package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mixrelay/internal/models"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsPongTimeout   = 60 * time.Second
	wsPingInterval  = 30 * time.Second
	wsOutboundDepth = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relayer is a public service; wallets connect from anywhere.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsCommand is the envelope of one client command. Exactly one field is set.
type wsCommand struct {
	Withdraw  *models.RelayRequest `json:"withdraw,omitempty"`
	Subscribe *wsFingerprint       `json:"subscribe,omitempty"`
	Cancel    *wsFingerprint       `json:"cancel,omitempty"`
	Ping      *struct{}            `json:"ping,omitempty"`
}

type wsFingerprint struct {
	Fingerprint string `json:"fingerprint"`
}

// wsReply is the envelope of one server message. Exactly one field is set.
type wsReply struct {
	Event     *models.StatusEvent `json:"event,omitempty"`
	Error     string              `json:"error,omitempty"`
	Pong      bool                `json:"pong,omitempty"`
	Accepted  *wsFingerprint      `json:"accepted,omitempty"`
	Cancelled *wsFingerprint      `json:"cancelled,omitempty"`
}

// CommandChannel handles GET /api/v1/relay/ws: the bidirectional command
// channel. A client submits withdrawals and receives the status stream of each
// one; the stream for a fingerprint ends with its terminal event. A closed
// or lagging stream means the client should re-query the record.
func (h *Handlers) CommandChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	session := &wsSession{
		handlers: h,
		conn:     conn,
		outbound: make(chan wsReply, wsOutboundDepth),
		done:     make(chan struct{}),
	}
	session.run()
}

// wsSession serializes all writes to one connection through the outbound
// channel; the read loop and any number of event forwarders feed it.
type wsSession struct {
	handlers *Handlers
	conn     *websocket.Conn
	outbound chan wsReply

	closeOnce sync.Once
	done      chan struct{}
}

func (s *wsSession) run() {
	go s.writeLoop()
	s.readLoop()
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *wsSession) send(reply wsReply) {
	select {
	case s.outbound <- reply:
	case <-s.done:
	}
}

func (s *wsSession) writeLoop() {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	defer s.close()

	for {
		select {
		case reply := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteJSON(reply); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSession) readLoop() {
	defer s.close()

	s.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			s.send(wsReply{Error: "invalid command: " + err.Error()})
			continue
		}

		switch {
		case cmd.Withdraw != nil:
			s.handleWithdraw(cmd.Withdraw)
		case cmd.Subscribe != nil:
			s.handleSubscribe(cmd.Subscribe.Fingerprint)
		case cmd.Cancel != nil:
			s.handleCancel(cmd.Cancel.Fingerprint)
		case cmd.Ping != nil:
			s.send(wsReply{Pong: true})
		default:
			s.send(wsReply{Error: "empty command"})
		}
	}
}

func (s *wsSession) handleWithdraw(req *models.RelayRequest) {
	stream, err := s.handlers.engine.Submit(req)
	if err != nil {
		s.send(wsReply{Error: err.Error()})
		return
	}

	fp := req.Fingerprint()
	s.send(wsReply{Accepted: &wsFingerprint{Fingerprint: fp}})
	go s.forward(stream)
}

func (s *wsSession) handleSubscribe(fingerprint string) {
	if stream, ok := s.handlers.engine.Subscribe(fingerprint); ok {
		go s.forward(stream)
		return
	}

	// Nothing in flight; replay the stored record if there is one.
	record, err := s.handlers.ledger.Get(fingerprint)
	if err != nil || record == nil {
		s.send(wsReply{Error: "unknown fingerprint " + fingerprint})
		return
	}
	s.send(wsReply{Event: &models.StatusEvent{
		Fingerprint: record.Fingerprint,
		Status:      record.Status,
		TxHash:      record.TxHash,
		Error:       record.LastError,
	}})
}

func (s *wsSession) handleCancel(fingerprint string) {
	if err := s.handlers.engine.Cancel(fingerprint); err != nil {
		s.send(wsReply{Error: err.Error()})
		return
	}
	s.send(wsReply{Cancelled: &wsFingerprint{Fingerprint: fingerprint}})
}

// forward pipes one status stream to the connection until the stream closes
func (s *wsSession) forward(stream <-chan models.StatusEvent) {
	for {
		select {
		case event, ok := <-stream:
			if !ok {
				return
			}
			e := event
			s.send(wsReply{Event: &e})
		case <-s.done:
			return
		}
	}
}
