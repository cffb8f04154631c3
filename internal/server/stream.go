package server

import (
	"bytes"
	"net/http"
	"time"

	"bank-intel/internal/batch"
	"bank-intel/internal/ml"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Stream message types.
const (
	MessageRow     = "row"
	MessageSummary = "summary"
	MessageError   = "error"
)

const streamWriteWait = 10 * time.Second

// StreamMessage is one JSON frame sent on the batch stream. Row frames carry a
// decision or, in continue-on-error mode, the row's error.
type StreamMessage struct {
	Type     string         `json:"type"`
	Row      int            `json:"row,omitempty"`
	Decision *ml.Decision   `json:"decision,omitempty"`
	Error    string         `json:"error,omitempty"`
	Summary  *batch.Summary `json:"summary,omitempty"`
}

// handleStream upgrades to a WebSocket, reads one text frame holding a CSV
// dataset and answers with one frame per row followed by a summary frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	domain, err := ml.ParseDomain(r.PathValue("domain"))
	if err != nil {
		writeError(w, requestID(r), http.StatusNotFound, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.opts.MaxUploadBytes)
	_, payload, err := conn.ReadMessage()
	if err != nil {
		log.Debug().Err(err).Msg("stream closed before dataset arrived")
		return
	}

	send := func(msg StreamMessage) error {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(msg)
	}

	ds, err := batch.ReadCSV(bytes.NewReader(payload))
	if err != nil {
		send(StreamMessage{Type: MessageError, Error: err.Error()})
		closeStream(conn, websocket.CloseInvalidFramePayloadData)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	summary, err := s.runner.Stream(ctx, ds, domain, func(res batch.RowResult) error {
		msg := StreamMessage{Type: MessageRow, Row: res.Row}
		if res.Err != nil {
			msg.Error = res.Err.Error()
		} else {
			d := res.Decision
			msg.Decision = &d
		}
		return send(msg)
	})
	if err != nil {
		send(StreamMessage{Type: MessageError, Error: err.Error()})
		closeStream(conn, websocket.CloseNormalClosure)
		return
	}

	send(StreamMessage{Type: MessageSummary, Summary: &summary})
	closeStream(conn, websocket.CloseNormalClosure)
}

func closeStream(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait)); err != nil {
		log.Debug().Err(err).Msg("failed to send close frame")
	}
}
