package api

import (
	"github.com/gofiber/contrib/websocket"

	"github.com/randomizedcoder/go-srcbuild/internal/events"
	"github.com/randomizedcoder/go-srcbuild/internal/supervisor"
)

// streamEvents forwards every broadcast envelope to the client as JSON until
// the client goes away or the server shuts down. Client messages are read
// and discarded so that a close frame is noticed.
func (s *Server) streamEvents(c *websocket.Conn) {
	ch, cancel := s.broadcaster.Subscribe()
	defer cancel()

	s.logger.Info("event_stream_opened", "remote", c.RemoteAddr().String(), "subscribers", s.broadcaster.Subscribers())
	defer s.logger.Info("event_stream_closed", "remote", c.RemoteAddr().String())

	// Send the current state first so a late subscriber does not wait for
	// the next transition.
	if err := c.WriteJSON(stateEnvelope(s.sup.Status())); err != nil {
		s.logger.Debug("event_stream_write_failed", "error", err)
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteJSON(env); err != nil {
				s.logger.Debug("event_stream_write_failed", "error", err)
				return
			}
		case <-gone:
			return
		case <-s.closing:
			_ = c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func stateEnvelope(st supervisor.Status) events.Envelope {
	return events.Envelope{
		Event:   events.TaskState,
		Payload: events.StatePayload{State: st.Name},
	}
}
