// Package bridge publishes the latest screenshot to companion tools over a
// loopback-only HTTP server. Consumers long-poll /scrcpy-bridge/latest with
// the last sequence number they saw; a websocket endpoint notifies pollers
// when a new snapshot lands.
package bridge

import (
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type snapshot struct {
	seq    uint64
	png    []byte
	width  uint16
	height uint16
}

// OfferHandler answers a WebRTC SDP offer. Optional; installed by the
// session when the WebRTC mirror is enabled.
type OfferHandler func(offer []byte) (answer []byte, err error)

// Bridge serves the snapshot endpoints. Zero value is not usable; use New.
type Bridge struct {
	mu   sync.Mutex
	snap snapshot

	offerMu sync.Mutex
	offer   OfferHandler

	subMu       sync.Mutex
	subscribers map[*websocket.Conn]struct{}

	engine   *gin.Engine
	server   *http.Server
	listener net.Listener
}

var upgrader = websocket.Upgrader{
	// Loopback only; companion tools connect from a browser origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func New() *Bridge {
	gin.SetMode(gin.ReleaseMode)
	b := &Bridge{
		subscribers: make(map[*websocket.Conn]struct{}),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), corsMiddleware())
	engine.HandleMethodNotAllowed = true
	engine.GET("/scrcpy-bridge/health", b.handleHealth)
	engine.GET("/scrcpy-bridge/latest", b.handleLatest)
	engine.GET("/scrcpy-bridge/events", b.handleEvents)
	engine.POST("/scrcpy-bridge/webrtc", b.handleOffer)
	engine.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		c.Status(http.StatusNotFound)
	})
	engine.NoMethod(func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		c.Status(http.StatusMethodNotAllowed)
	})
	b.engine = engine
	return b
}

// corsMiddleware answers preflights and stamps permissive CORS headers on
// every response. No credentials ever cross this server, so * is fine.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Handler exposes the route table; used by the HTTP tests.
func (b *Bridge) Handler() http.Handler { return b.engine }

// Start binds the loopback port and begins serving. Port 0 picks a free one.
func (b *Bridge) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	b.listener = listener
	b.server = &http.Server{Handler: b.engine}
	go func() {
		if err := b.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[bridge] serve: %v", err)
		}
	}()
	log.Printf("[bridge] listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address. Only valid after Start.
func (b *Bridge) Addr() string {
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Stop closes the server and every websocket subscriber.
func (b *Bridge) Stop() {
	if b.server != nil {
		b.server.Close()
	}
	b.subMu.Lock()
	for conn := range b.subscribers {
		conn.Close()
	}
	b.subscribers = make(map[*websocket.Conn]struct{})
	b.subMu.Unlock()
}

// PublishPNG stores a new snapshot. The data is copied under the lock so a
// caller reusing its buffer cannot tear a concurrent read; the sequence is
// strictly increasing.
func (b *Bridge) PublishPNG(data []byte, width, height uint16) {
	png := make([]byte, len(data))
	copy(png, data)

	b.mu.Lock()
	b.snap = snapshot{
		seq:    b.snap.seq + 1,
		png:    png,
		width:  width,
		height: height,
	}
	seq := b.snap.seq
	b.mu.Unlock()

	b.notify(seq)
}

// SetOfferHandler installs the WebRTC offer endpoint's backend.
func (b *Bridge) SetOfferHandler(h OfferHandler) {
	b.offerMu.Lock()
	b.offer = h
	b.offerMu.Unlock()
}

func (b *Bridge) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

type latestResponse struct {
	Seq       uint64 `json:"seq"`
	Width     uint16 `json:"width"`
	Height    uint16 `json:"height"`
	PNGBase64 string `json:"png_base64"`
}

func (b *Bridge) handleLatest(c *gin.Context) {
	afterParam := c.DefaultQuery("after", "0")
	after, ok := parseSeq(afterParam)
	if !ok {
		c.String(http.StatusBadRequest, "malformed after parameter")
		return
	}

	b.mu.Lock()
	snap := snapshot{
		seq:    b.snap.seq,
		png:    append([]byte(nil), b.snap.png...),
		width:  b.snap.width,
		height: b.snap.height,
	}
	b.mu.Unlock()

	if snap.seq == 0 || snap.seq <= after {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, latestResponse{
		Seq:       snap.seq,
		Width:     snap.width,
		Height:    snap.height,
		PNGBase64: base64.StdEncoding.EncodeToString(snap.png),
	})
}

// parseSeq accepts only plain base-10 digits, no sign, no trailing garbage.
func parseSeq(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	var v uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		d := uint64(r - '0')
		if v > (^uint64(0)-d)/10 {
			return 0, false
		}
		v = v*10 + d
	}
	return v, true
}

type eventMessage struct {
	Seq uint64 `json:"seq"`
}

func (b *Bridge) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	b.subMu.Lock()
	b.subscribers[conn] = struct{}{}
	b.subMu.Unlock()

	// Drain the client side; its close is our unsubscribe.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		b.subMu.Lock()
		delete(b.subscribers, conn)
		b.subMu.Unlock()
		conn.Close()
	}()
}

func (b *Bridge) notify(seq uint64) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for conn := range b.subscribers {
		if err := conn.WriteJSON(eventMessage{Seq: seq}); err != nil {
			delete(b.subscribers, conn)
			conn.Close()
		}
	}
}

func (b *Bridge) handleOffer(c *gin.Context) {
	b.offerMu.Lock()
	handler := b.offer
	b.offerMu.Unlock()
	if handler == nil {
		c.Status(http.StatusNotFound)
		return
	}

	offer, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "read offer: %v", err)
		return
	}
	answer, err := handler(offer)
	if err != nil {
		c.String(http.StatusInternalServerError, "%v", err)
		return
	}
	c.Data(http.StatusOK, "application/sdp", answer)
}
