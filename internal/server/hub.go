package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"netforge/internal/logger"
	"netforge/pkg/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Upgrader 只接受同源或无 Origin 的握手
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     sameOrigin,
}

type client struct {
	ws   *websocket.Conn
	send chan []byte
}

// Hub 把事件流广播给所有 websocket 客户端，慢客户端丢弃消息
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	reg     chan *client
	unreg   chan *client
	stop    chan struct{}
	done    chan struct{}
	log     logger.Logger
}

// NewHub 创建并启动广播中心，events 关闭时自动停止
func NewHub(events <-chan model.Event, l logger.Logger) *Hub {
	if l == nil {
		l = logger.NewNop()
	}
	h := &Hub{
		clients: map[*client]struct{}{},
		reg:     make(chan *client),
		unreg:   make(chan *client),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     l,
	}
	go h.run(events)
	return h
}

func (h *Hub) run(events <-chan model.Event) {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case c := <-h.reg:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case evt, ok := <-events:
			if !ok {
				h.closeAll()
				return
			}
			msg, err := json.Marshal(evt)
			if err != nil {
				h.log.Err(err, "事件编码失败", "type", string(evt.Type))
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop 停止广播并断开所有客户端
func (h *Hub) Stop() {
	select {
	case <-h.stop:
		return
	default:
		close(h.stop)
	}
	<-h.done
}

// ServeHTTP 升级为 websocket 并推送事件
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket 升级失败", "remote", r.RemoteAddr, "error", err.Error())
		return
	}
	c := &client{ws: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.reg <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	h.log.Debug("事件订阅客户端已连接", "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump(h)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.ws.Close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket 读取错误", "error", err.Error())
			}
			return
		}
	}
}
