package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/songzhibin97/graph-engine/review"
	"github.com/songzhibin97/graph-engine/workflow"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next message or pong from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// reviewRequest is one submission on the review socket.
type reviewRequest struct {
	Code      string   `json:"code"`
	Threshold *float64 `json:"threshold"`
}

// reviewResponse reports the outcome of one submission.
type reviewResponse struct {
	QualityScore float64        `json:"quality_score"`
	Threshold    float64        `json:"threshold"`
	Issues       []review.Issue `json:"issues"`
	Suggestions  []string       `json:"suggestions"`
	Complexity   map[string]int `json:"complexity"`
	Functions    []string       `json:"functions"`
	Node         string         `json:"node"`
	Iteration    int            `json:"iteration"`
	RunID        string         `json:"run_id"`
	Accepted     bool           `json:"accepted"`
	Message      string         `json:"message"`
}

// wsConn serialises writes from the reply loop and the pinger.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleCodeReview runs the default review graph once per message. The
// connection owns one session, so iteration counts continue across
// resubmissions.
func (s *server) handleCodeReview(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	ws := &wsConn{conn: conn}
	defer conn.Close()

	session := workflow.NewSession(s.engine, review.DefaultGraphID)
	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("review session opened")

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ws.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		var req reviewRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("review session read failed", "error", err)
			}
			logger.Info("review session closed", "runs", len(session.RunIDs()))
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := ws.writeJSON(s.review(r, session, req)); err != nil {
			logger.Warn("ws write failed", "error", err)
			return
		}
	}
}

func (s *server) review(r *http.Request, session *workflow.Session[review.State], req reviewRequest) interface{} {
	if req.Code == "" {
		return errorBody("No code provided")
	}
	state := review.NewState(req.Code)
	if req.Threshold != nil {
		state.Threshold = *req.Threshold
	}

	run, err := session.Submit(r.Context(), state)
	if err != nil {
		s.logger.Error("review run failed", "error", err)
		return errorBody(err.Error())
	}

	final := run.State
	resp := reviewResponse{
		QualityScore: final.QualityScore,
		Threshold:    final.Threshold,
		Issues:       final.Issues,
		Suggestions:  final.Suggestions,
		Complexity:   final.Complexity,
		Functions:    final.Functions,
		Node:         run.CurrentNode,
		Iteration:    final.Iter,
		RunID:        run.RunID,
		Accepted:     final.Accepted(),
	}
	if resp.Node == "" {
		resp.Node = "finished"
	}
	if resp.Accepted {
		resp.Message = fmt.Sprintf("Quality score %.2f meets the threshold %.2f.", final.QualityScore, final.Threshold)
	} else {
		resp.Message = fmt.Sprintf("Quality score %.2f is below the threshold %.2f. Apply the suggestions and resubmit.",
			final.QualityScore, final.Threshold)
	}
	return resp
}
