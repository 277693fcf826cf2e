package signal

import (
	"encoding/json"
	"time"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (c *Conn) writePump() {
	var tick <-chan time.Time
	if c.pingPeriod > 0 {
		ticker := time.NewTicker(c.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	ping, _ := json.Marshal(domain.Envelope{Type: domain.MsgPing})

	for {
		select {
		case <-c.done:
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				_ = c.conn.Close()
				return
			}
		case <-tick:
			if err := c.write(ping); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping error")
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *Conn) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) readPump(h core.SignalHandler) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				log.Debug().Str("module", "signal").Msg("readPump stopped")
				return
			}
			log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
			c.Close()
			h.OnDisconnect(err)
			return
		}
		dispatch(h, data)
	}
}

// dispatch decodes one relay frame and calls the matching handler method.
func dispatch(h core.SignalHandler, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case domain.MsgAllUsers:
		var m domain.RosterMessage
		if decode(data, &m) {
			h.OnRoster(m.Users)
		}
	case domain.MsgUserJoined:
		var m domain.JoinedMessage
		if decode(data, &m) {
			h.OnUserJoined(m.Member)
		}
	case domain.MsgSignal:
		var m domain.SignalMessage
		if decode(data, &m) {
			h.OnSignal(m.FromUserID, m.Signal)
		}
	case domain.MsgUserLeft:
		var m domain.LeftMessage
		if decode(data, &m) {
			h.OnUserLeft(m.UserID)
		}
	case domain.MsgUserMediaToggled:
		var m domain.ToggleMessage
		if decode(data, &m) {
			h.OnMediaToggled(m.MediaToggle)
		}
	case domain.MsgPong:
	case domain.MsgError:
		var m domain.ErrorMessage
		if decode(data, &m) {
			log.Warn().Str("module", "signal").Str("error", m.Error).Msg("relay error")
		}
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
	}
}

func decode(data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad payload")
		return false
	}
	return true
}
