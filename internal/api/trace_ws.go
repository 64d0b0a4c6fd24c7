package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"errandplan/internal/model"
	"errandplan/internal/opt"
	"errandplan/internal/planner"
)

// Greedy trace over WebSocket, framed like graphql-transport-ws:
// connection_init/connection_ack, start -> next... -> complete, ping/pong.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const wsIdle = 60 * time.Second

// TraceWSHandler handles /v1/trace. Each start message carries a plan
// request; the server answers with one next frame per greedy transition and
// a final summary frame whose schedule equals the greedy run's.
func (s *Server) TraceWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdle))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsIdle)) })

	var mu sync.Mutex
	write := func(v any) error {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	done := make(chan struct{})
	defer close(done)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdle))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "start":
			if err := s.streamTrace(msg, write); err != nil {
				return
			}
		default:
			// ignore
		}
	}
}

func (s *Server) streamTrace(msg wsMessage, write func(any) error) error {
	fail := func(title, detail string) error {
		payload, _ := json.Marshal(Problem{Type: "about:blank", Title: title, Status: http.StatusBadRequest, Detail: detail})
		if err := write(wsMessage{Type: "error", ID: msg.ID, Payload: payload}); err != nil {
			return err
		}
		return write(wsMessage{Type: "complete", ID: msg.ID})
	}
	var req model.PlanRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fail("Invalid JSON", err.Error())
	}
	if err := validatePlanRequest(&req); err != nil {
		return fail("Validation failed", err.Error())
	}
	st, inst, err := s.Planner.Trace(req)
	if err != nil {
		title := "Trace failed"
		if errors.Is(err, planner.ErrInvalidRequest) {
			title = "Invalid plan request"
		}
		return fail(title, err.Error())
	}
	for seq := 0; ; seq++ {
		step, more, err := st.Next()
		if err != nil {
			return fail("Trace failed", err.Error())
		}
		if err := writeNext(write, msg.ID, stepOut(seq, step)); err != nil {
			return err
		}
		if !more {
			sched := planner.ScheduleOut(st.Schedule(), inst.Origin)
			if err := writeNext(write, msg.ID, model.StepOut{Type: "summary", Seq: seq + 1, Schedule: &sched}); err != nil {
				return err
			}
			return write(wsMessage{Type: "complete", ID: msg.ID})
		}
	}
}

func writeNext(write func(any) error, id string, out model.StepOut) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return write(wsMessage{Type: "next", ID: id, Payload: payload})
}

func stepOut(seq int, st opt.Step) model.StepOut {
	out := model.StepOut{
		Type:         "step",
		Seq:          seq,
		Phase:        string(st.Phase),
		Day:          st.Day,
		CustomerIdx:  st.CustomerIdx,
		CustomerID:   st.CustomerID,
		ContractorID: st.ContractorID,
		Note:         st.Note,
	}
	if !st.Start.IsZero() {
		start, end := st.Start, st.End
		out.Start, out.End = &start, &end
	}
	return out
}
