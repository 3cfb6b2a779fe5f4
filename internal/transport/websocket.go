// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/Thermoquad/asebaboot/pkg/aseba"
)

// WebSocketBus carries frames as binary messages, one SocketCAN can_frame
// per message
type WebSocketBus struct {
	conn  *websocket.Conn
	wmu   sync.Mutex
	queue *frameQueue
}

// DialWebSocket connects to a relay with HTTP Basic auth
func DialWebSocket(wsURL, username, password string, skipSSLVerify bool) (*WebSocketBus, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return NewWebSocketBus(conn), nil
}

// NewWebSocketBus starts reading frames from an established connection
func NewWebSocketBus(conn *websocket.Conn) *WebSocketBus {
	w := &WebSocketBus{conn: conn, queue: newFrameQueue(DefaultQueueSize)}
	go w.readLoop()
	return w
}

func (w *WebSocketBus) readLoop() {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.queue.close(fmt.Errorf("websocket: %w", err))
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		var f aseba.Frame
		if err := f.UnmarshalBinary(data); err != nil {
			glog.V(2).Infof("websocket: ignoring message: %v", err)
			continue
		}
		if !w.queue.push(f) {
			glog.V(1).Infof("websocket: receive overrun, dropped %s", f)
		}
	}
}

// Send implements Bus
func (w *WebSocketBus) Send(f aseba.Frame) error {
	if w.queue.closed() {
		return ErrClosed
	}
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Recv implements Bus
func (w *WebSocketBus) Recv() (aseba.Frame, bool, error) {
	return w.queue.poll()
}

// Wait implements WaitBus
func (w *WebSocketBus) Wait(ctx context.Context) (aseba.Frame, error) {
	return w.queue.wait(ctx)
}

// Close implements Bus
func (w *WebSocketBus) Close() error {
	w.queue.close(nil)
	return w.conn.Close()
}

// Hub relays frames between WebSocket clients, acting as a shared CAN bus
type Hub struct {
	Username string
	Password string

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// NewHub creates a relay. Basic auth is enforced when username is set.
func NewHub(username, password string) *Hub {
	return &Hub{
		Username: username,
		Password: password,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.Username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.Password)) == 1
	return userOK && passOK
}

// ServeHTTP upgrades the request and relays its frames until it disconnects
func (h *Hub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		rw.Header().Set("WWW-Authenticate", `Basic realm="asebaboot"`)
		http.Error(rw, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		glog.Errorf("ERROR upgrading %s: %v", r.RemoteAddr, err)
		return
	}
	c := &hubClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	glog.Infof("hub: %s connected", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
		glog.Infof("hub: %s disconnected", r.RemoteAddr)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		var f aseba.Frame
		if err := f.UnmarshalBinary(data); err != nil {
			glog.V(2).Infof("hub: ignoring message from %s: %v", r.RemoteAddr, err)
			continue
		}
		h.relay(c, data)
	}
}

func (h *Hub) relay(from *hubClient, data []byte) {
	h.mu.Lock()
	targets := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.wmu.Lock()
		err := c.conn.WriteMessage(websocket.BinaryMessage, data)
		c.wmu.Unlock()
		if err != nil {
			glog.V(1).Infof("hub: relay failed: %v", err)
		}
	}
}
