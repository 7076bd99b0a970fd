package events

import (
	"encoding/json"
	"sync"
	"time"

	"meuwsic/core/ledger"
	"meuwsic/logger"

	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	MsgTypeAttempt MessageType = "upload_attempt" // 新的上传尝试
	MsgTypeStats   MessageType = "upload_stats"   // 连接建立时推送的统计快照
)

// Message 推送给管理端的消息
type Message struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Client 一个管理端 WebSocket 连接
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	Email string
}

// Hub 上传报表实时推送中心
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
	done       chan struct{}
	stopOnce   sync.Once
}

// NewHub 创建 Hub，需要单独调用 Run
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Info("report client registered", logger.String("email", client.Email))

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.fanOut(msg)

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.removeClient(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop 关闭所有连接并退出 Run
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// removeClient 调用方持有写锁
func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		logger.Info("report client unregistered", logger.String("email", client.Email))
	}
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// 发送缓冲区满，断开慢客户端
			h.removeClient(client)
		}
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish 广播一条消息，队列满时丢弃
func (h *Hub) Publish(msgType MessageType, data interface{}) {
	payload, err := encode(msgType, data)
	if err != nil {
		logger.Warn("encode report message failed", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		logger.Warn("report broadcast queue full, dropping message")
	}
}

// OnAttempt 作为 ledger.Listener 注册
func (h *Hub) OnAttempt(a ledger.Attempt) {
	h.Publish(MsgTypeAttempt, a)
}

func encode(msgType MessageType, data interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()})
}

// Attach 注册连接并启动读写协程，initial 非空时先推送给该连接
func (h *Hub) Attach(conn *websocket.Conn, email string, initial *Message) *Client {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), Email: email}
	if initial != nil {
		if payload, err := encode(initial.Type, initial.Data); err == nil {
			c.send <- payload
		}
	}
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
		conn.Close()
		return c
	}
	go c.writePump()
	go c.readPump()
	return c
}

// readPump 管理端只接收推送，读循环用于处理 pong 和感知断开
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("report websocket read error", logger.ErrorField(err), logger.String("email", c.Email))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
