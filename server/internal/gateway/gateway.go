package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pocket-companion/server/internal/session"
)

// EventHandler 处理来自客户端的上行事件
// 返回error表示处理失败，网关会回一个 error 帧但不断开连接
type EventHandler func(ctx context.Context, event *ClientMessage) error

// Gateway 是单个客户端的 WebSocket 会话通道
// 职责：
// 1. 读取客户端帧，经 EventQueue 串行交给核心
// 2. 订阅通知总线，把核心通知编号后写给客户端
// 3. 保活（ping/pong）与关闭
type Gateway struct {
	ID string

	clientConn     *websocket.Conn
	clientConnLock sync.Mutex

	bus          *session.Broadcaster
	eventHandler EventHandler
	queue        *EventQueue

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeChan chan struct{}
	unsub     func()

	// 序列号生成器（用于ServerMessage）
	seqCounter int64
	seqLock    sync.Mutex

	config Config
	logger *log.Logger
}

// Config 网关配置
type Config struct {
	ReadTimeout  time.Duration // 超过该时长没有收到任何帧（含 pong）视为断线
	WriteTimeout time.Duration
	PingInterval time.Duration
	// SubscribeBuffer 通知订阅缓冲，写得慢的客户端超出后丢通知
	SubscribeBuffer int
}

func (c *Config) applyDefaults() {
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 2 * c.PingInterval
	}
	if c.SubscribeBuffer == 0 {
		c.SubscribeBuffer = 128
	}
}

// NewGateway 创建一个新的Gateway实例
func NewGateway(clientConn *websocket.Conn, bus *session.Broadcaster, handler EventHandler, config Config, logger *log.Logger) *Gateway {
	config.applyDefaults()
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		ID:           uuid.NewString(),
		clientConn:   clientConn,
		bus:          bus,
		eventHandler: handler,
		ctx:          ctx,
		cancel:       cancel,
		closeChan:    make(chan struct{}),
		config:       config,
		logger:       logger,
	}
	g.queue = NewEventQueue(g.ID, g.handleEvent, logger)
	return g
}

// Start 启动读循环、写循环与保活
func (g *Gateway) Start() {
	_, notes, unsub := g.bus.Subscribe(g.config.SubscribeBuffer)
	g.unsub = unsub

	conn := g.clientConn
	conn.SetReadDeadline(time.Now().Add(g.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.config.ReadTimeout))
	})

	go g.clientReadLoop(conn)
	go g.notifyLoop(notes)
	go g.pingLoop()

	g.logger.Printf("[Gateway] client connected id=%s", g.ID)
}

// Done 在网关关闭后返回
func (g *Gateway) Done() <-chan struct{} {
	return g.closeChan
}

// clientReadLoop 从客户端读取 JSON 事件。连接只有这一个读者。
func (g *Gateway) clientReadLoop(conn *websocket.Conn) {
	defer g.Close()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Printf("[Gateway] client read error id=%s: %v", g.ID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(g.config.ReadTimeout))

		if messageType != websocket.TextMessage {
			continue
		}
		if err := g.handleClientFrame(data); err != nil {
			g.logger.Printf("[Gateway] handle client frame error: %v", err)
			g.sendErrorToClient(err.Error())
		}
	}
}

func (g *Gateway) handleClientFrame(data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal client message: %w", err)
	}
	if msg.Type == "" {
		return errors.New("missing event type")
	}
	if msg.ClientTS.IsZero() {
		msg.ClientTS = time.Now()
	}
	return g.queue.Enqueue(&msg)
}

// handleEvent 在事件队列协程中执行，失败时回 error 帧
func (g *Gateway) handleEvent(ctx context.Context, msg *ClientMessage) error {
	if g.eventHandler == nil {
		return nil
	}
	err := g.eventHandler(ctx, msg)
	if err != nil {
		g.sendErrorToClient(err.Error())
	}
	return err
}

// notifyLoop 把总线通知转发给客户端
func (g *Gateway) notifyLoop(notes <-chan session.Notification) {
	for {
		select {
		case <-g.closeChan:
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			if err := g.Send(FromNotification(n)); err != nil {
				g.logger.Printf("[Gateway] ⚠️ write notification id=%s type=%s: %v", g.ID, n.Type, err)
				g.Close()
				return
			}
		}
	}
}

// Send 编号并发送一条下行帧
func (g *Gateway) Send(msg *ServerMessage) error {
	g.seqLock.Lock()
	g.seqCounter++
	msg.Seq = g.seqCounter
	g.seqLock.Unlock()

	if msg.ServerTS.IsZero() {
		msg.ServerTS = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal server message: %w", err)
	}

	g.clientConnLock.Lock()
	defer g.clientConnLock.Unlock()

	if g.clientConn == nil {
		return errors.New("client connection is closed")
	}
	g.clientConn.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
	if err := g.clientConn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}
	return nil
}

func (g *Gateway) sendErrorToClient(errMsg string) error {
	return g.Send(&ServerMessage{Type: EventTypeError, Error: errMsg})
}

// pingLoop 定期发送ping保持连接
func (g *Gateway) pingLoop() {
	ticker := time.NewTicker(g.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.closeChan:
			return
		case <-ticker.C:
			g.clientConnLock.Lock()
			if g.clientConn != nil {
				if err := g.clientConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					g.logger.Printf("[Gateway] ping failed id=%s: %v", g.ID, err)
				}
			}
			g.clientConnLock.Unlock()
		}
	}
}

// QueueStats 返回上行事件队列的统计
func (g *Gateway) QueueStats() QueueStats {
	return g.queue.Stats()
}

// Close 关闭网关
func (g *Gateway) Close() error {
	var closeErr error

	g.closeOnce.Do(func() {
		g.logger.Printf("[Gateway] closing id=%s", g.ID)
		g.cancel()
		close(g.closeChan)

		if g.unsub != nil {
			g.unsub()
		}
		g.queue.Close()
		closeErr = g.closeClientConn()
	})

	return closeErr
}

// closeClientConn 关闭客户端连接
func (g *Gateway) closeClientConn() error {
	g.clientConnLock.Lock()
	defer g.clientConnLock.Unlock()

	if g.clientConn == nil {
		return nil
	}

	g.clientConn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	err := g.clientConn.Close()
	g.clientConn = nil
	return err
}
