package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/wastewizard/internal/ingest"
	"github.com/Brownie44l1/wastewizard/internal/model"
	"github.com/Brownie44l1/wastewizard/internal/stream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingEvery  = (pongWait * 9) / 10
	statsEvery = 5 * time.Second
	maxFrame   = 8 << 20
)

// ResultMessage is a live delivery.
type ResultMessage struct {
	Type       string  `json:"type"` // "result"
	Token      uint64  `json:"token"`
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	ClassIndex int     `json:"class_index"`
}

// StillMessage answers a still capture sent during a session.
type StillMessage struct {
	Type string `json:"type"` // "still"
	*model.PredictionResponse
	Error string `json:"error,omitempty"`
}

// StatsMessage reports session counters. Unavailable is set when every
// frame since the previous report failed.
type StatsMessage struct {
	Type        string       `json:"type"` // "stats"
	Stats       stream.Stats `json:"stats"`
	Unavailable bool         `json:"unavailable"`
}

type controlMessage struct {
	Type string `json:"type"`
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Stream runs one live classification session over a websocket. Binary
// messages are CBOR frames; text messages are JSON control messages.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	session, err := h.streams.Start(r.Context())
	if err != nil {
		code := http.StatusServiceUnavailable
		if errors.Is(err, stream.ErrSessionActive) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	defer session.Stop()

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()
	log := h.log.WithField("session", session.ID)

	raw.SetReadLimit(maxFrame)
	_ = raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(pongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.pump(conn, session, log)
	}()

	h.readFrames(conn, session, log)
	session.Stop()
	<-writerDone
}

// pump writes deliveries, stats and pings until the session ends.
func (h *Handler) pump(conn *wsConn, session *stream.Session, log *logrus.Entry) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	stats := time.NewTicker(statsEvery)
	defer stats.Stop()

	var last stream.Stats
	for {
		select {
		case d, ok := <-session.Results():
			if !ok {
				return
			}
			err := conn.writeJSON(ResultMessage{
				Type:       "result",
				Token:      d.Token,
				Class:      d.Result.Label,
				Confidence: d.Result.Confidence,
				ClassIndex: d.Result.ClassIndex,
			})
			if err != nil {
				log.WithError(err).Debug("write failed, closing")
				_ = conn.conn.Close()
				return
			}
		case <-stats.C:
			cur := session.Stats()
			failed := cur.Failed - last.Failed
			ok := (cur.Delivered - last.Delivered) + (cur.Suppressed - last.Suppressed)
			if err := conn.writeJSON(StatsMessage{Type: "stats", Stats: cur, Unavailable: failed > 0 && ok == 0}); err != nil {
				_ = conn.conn.Close()
				return
			}
			last = cur
		case <-ping.C:
			if err := conn.ping(); err != nil {
				_ = conn.conn.Close()
				return
			}
		}
	}
}

func (h *Handler) readFrames(conn *wsConn, session *stream.Session, log *logrus.Entry) {
	for {
		mt, payload, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("stream read ended")
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			msg, err := ingest.ParseMessage(payload)
			if err != nil {
				log.WithError(err).Debug("dropping malformed frame")
				continue
			}
			if msg.Still {
				h.still(conn, msg)
				continue
			}
			src, err := msg.Source()
			if err != nil {
				log.WithError(err).Debug("dropping malformed frame")
				continue
			}
			session.Submit(src)
		case websocket.TextMessage:
			var ctl controlMessage
			if err := json.Unmarshal(payload, &ctl); err != nil {
				continue
			}
			if ctl.Type == "stop" {
				_ = conn.writeJSON(StatsMessage{Type: "stats", Stats: session.Stats()})
				return
			}
		}
	}
}

// still classifies a deliberate capture with the ensemble, outside the
// session's smoothing.
func (h *Handler) still(conn *wsConn, msg *ingest.FrameMessage) {
	reply := StillMessage{Type: "still"}
	img, err := msg.Image()
	if err == nil {
		reply.PredictionResponse, err = h.scorer.Classify(img, msg.Rotation)
	}
	if err != nil {
		h.log.WithError(err).Warn("still capture failed")
		reply.Error = "Classification failed, try another photo"
		if statusFor(err) == http.StatusBadRequest {
			reply.Error = "Could not read image"
		}
	}
	_ = conn.writeJSON(reply)
}
