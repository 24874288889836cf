package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS middleware and the token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleEventStream upgrades to a websocket and streams events as JSON
// text messages until the client goes away.
func (s *RESTServer) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.backend.Hub == nil {
		s.respondError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.backend.Hub.Subscribe(256)
	defer cancel()

	// The reader only notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	acs, cpe := r.URL.Query().Get("acs"), r.URL.Query().Get("cpe")
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	log.Debug().Str("remote", r.RemoteAddr).Msg("Event stream client connected")
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if (acs != "" && e.Acs != acs) || (cpe != "" && e.Cpe != cpe) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
