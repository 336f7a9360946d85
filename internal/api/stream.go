package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/trackwatch/internal/httputil"
	"github.com/banshee-data/trackwatch/internal/monitoring"
	"github.com/banshee-data/trackwatch/internal/tracking"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// subscribeTracking registers an observer and primes it with the last
// published set so a new client does not wait for the next change.
func (s *Server) subscribeTracking() (*tracking.Subscription[tracking.TrackingUpdate], *tracking.TrackingUpdate) {
	sub := s.engine.Session.Subscribe()
	monitoring.ObserverSubscriptions.Inc()
	if last, ok := s.engine.Session.Last(); ok {
		return sub, &last
	}
	return sub, nil
}

func (s *Server) unsubscribeTracking(sub *tracking.Subscription[tracking.TrackingUpdate]) {
	s.engine.Session.Unsubscribe(sub)
	monitoring.ObserverSubscriptions.Dec()
}

// streamTrackingEvents serves tracking updates as Server-Sent Events.
func (s *Server) streamTrackingEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	sub, last := s.subscribeTracking()
	defer s.unsubscribeTracking(sub)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	send := func(u tracking.TrackingUpdate) bool {
		payload, err := json.Marshal(u)
		if err != nil {
			log.Printf("failed to encode tracking update: %v", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: tracking\ndata: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if last != nil && !send(*last) {
		return
	}
	for {
		select {
		case u, ok := <-sub.C:
			if !ok || !send(u) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// serveTrackingWebSocket serves tracking updates as JSON text frames.
// Client messages are read only to notice disconnects.
func (s *Server) serveTrackingWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	defer conn.Close()

	sub, last := s.subscribeTracking()
	defer s.unsubscribeTracking(sub)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					log.Printf("tracking websocket read: %v", err)
				}
				return
			}
		}
	}()

	send := func(u tracking.TrackingUpdate) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(u) == nil
	}
	if last != nil && !send(*last) {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case u, ok := <-sub.C:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if !send(u) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
