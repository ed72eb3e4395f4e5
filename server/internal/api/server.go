package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pocket-companion/server/internal/companion"
	"pocket-companion/server/internal/config"
	"pocket-companion/server/internal/gateway"
	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/orchestrator"
	"pocket-companion/server/internal/presence"
	"pocket-companion/server/internal/speech"
	"pocket-companion/server/internal/world"
)

// Deps 是 Server 依赖的核心组件，由 cmd 组装后注入。
type Deps struct {
	World    *world.World
	Chat     *orchestrator.Orchestrator
	Presence *presence.Monitor
	Service  companion.Service
	// Synth 为空时 /api/tts 返回 503
	Synth  speech.Synthesizer
	Logger *log.Logger
}

type Server struct {
	config   *config.Config
	world    *world.World
	chat     *orchestrator.Orchestrator
	presence *presence.Monitor
	service  companion.Service
	synth    speech.Synthesizer
	logger   *log.Logger

	// gateways 管理所有活跃的客户端连接 (gatewayID -> Gateway)
	gateways   map[string]*gateway.Gateway
	gatewaysMu sync.RWMutex

	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		config:   cfg,
		world:    deps.World,
		chat:     deps.Chat,
		presence: deps.Presence,
		service:  deps.Service,
		synth:    deps.Synth,
		logger:   logger,
		gateways: make(map[string]*gateway.Gateway),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}
	return s
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)

	api := engine.Group("/api")
	api.GET("/state", s.handleState)
	api.POST("/speed", s.handleSpeed)
	api.POST("/sync", s.handleSync)
	api.POST("/persona", s.handlePersona)
	api.POST("/chat/:channel", s.handleUserMessage)
	api.POST("/focus/:channel", s.handleFocus)
	api.POST("/surprise", s.handleSurprise)

	// 与生成服务一致的协作方接口，便于前端或调试直接调用
	api.POST("/generate_schedule", s.handleGenerateSchedule)
	api.POST("/chat", s.handleChatReply)
	api.POST("/random_event", s.handleRandomEvent)
	api.POST("/tts", s.handleTTS)

	engine.GET("/ws/chat", s.handleChatStream)

	if dir := s.config.Server.StaticDir; dir != "" {
		engine.NoRoute(gin.WrapH(http.FileServer(http.Dir(dir))))
	}
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type stateResponse struct {
	world.Snapshot
	Channels map[model.Channel]orchestrator.Phase `json:"channels"`
	Clients  int                                  `json:"clients"`
}

// handleState 返回当前世界状态与各通道流水线状态。
func (s *Server) handleState(c *gin.Context) {
	s.gatewaysMu.RLock()
	clients := len(s.gateways)
	s.gatewaysMu.RUnlock()

	c.JSON(http.StatusOK, stateResponse{
		Snapshot: s.world.Snapshot(),
		Channels: map[model.Channel]orchestrator.Phase{
			model.ChannelFaceToFace: s.chat.Phase(model.ChannelFaceToFace),
			model.ChannelRemote:     s.chat.Phase(model.ChannelRemote),
		},
		Clients: clients,
	})
}

type speedRequest struct {
	Index *int `json:"index"`
}

// handleSpeed 切换流速；不带 index 时循环到下一档。
func (s *Server) handleSpeed(c *gin.Context) {
	var req speedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	if req.Index == nil {
		idx := s.world.CycleSpeed()
		c.JSON(http.StatusOK, gin.H{"index": idx})
		return
	}
	if err := s.world.SetSpeed(*req.Index); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": *req.Index})
}

// handleSync 对齐现实时间。
func (s *Server) handleSync(c *gin.Context) {
	c.JSON(http.StatusOK, s.world.Sync())
}

type personaRequest struct {
	Name    string `json:"name"`
	Persona string `json:"persona"`
	VoiceID string `json:"voice_id"`
}

// handlePersona 切换角色并重新生成作息。
func (s *Server) handlePersona(c *gin.Context) {
	var req personaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Name == "" {
		req.Name = s.config.Persona.Name
	}

	persona := model.Persona{Name: req.Name, Prompt: req.Persona, VoiceID: req.VoiceID}
	sched, err := s.world.Regenerate(c.Request.Context(), persona)
	switch {
	case errors.Is(err, world.ErrRegenerating):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		s.logger.Printf("[API] ❌ regenerate failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "generate schedule failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"persona": persona, "schedule": sched})
	}
}

type userMessageRequest struct {
	Content string `json:"content"`
}

// handleUserMessage 接收一条用户消息，回复通过 WebSocket 推送。
func (s *Server) handleUserMessage(c *gin.Context) {
	var req userMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ch := model.Channel(c.Param("channel"))
	if err := s.chat.SendUserMessage(c.Request.Context(), ch, req.Content); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrUnknownChannel) || errors.Is(err, orchestrator.ErrEmptyMessage) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if s.presence != nil {
		s.presence.Activity()
	}
	c.JSON(http.StatusAccepted, gin.H{"channel": ch, "phase": s.chat.Phase(ch)})
}

type focusRequest struct {
	Focused bool `json:"focused"`
}

func (s *Server) handleFocus(c *gin.Context) {
	var req focusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := s.chat.Focus(model.Channel(c.Param("channel")), req.Focused); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": s.world.Snapshot().Unread})
}

// handleSurprise 生成一张桌上的便签，失败时返回兜底文案。
func (s *Server) handleSurprise(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"text": s.world.Surprise(c.Request.Context())})
}

// handleChatStream 处理 WebSocket 连接，创建 Gateway 并推送通知
func (s *Server) handleChatStream(c *gin.Context) {
	clientConn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("[API] ❌ Failed to upgrade websocket: %v", err)
		return
	}

	router := &gateway.Router{Chat: s.chat, Clock: s.world}
	if s.presence != nil {
		router.Presence = s.presence
	}
	gwConfig := gateway.Config{
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		PingInterval: s.config.Server.PingInterval,
	}
	gw := gateway.NewGateway(clientConn, s.world.Session().Bus(), router.Handle, gwConfig, s.logger)

	s.gatewaysMu.Lock()
	s.gateways[gw.ID] = gw
	count := len(s.gateways)
	s.gatewaysMu.Unlock()
	s.logger.Printf("[API] 📞 client connected id=%s remote=%s (total active: %d)", gw.ID, c.Request.RemoteAddr, count)

	defer func() {
		s.gatewaysMu.Lock()
		delete(s.gateways, gw.ID)
		remaining := len(s.gateways)
		s.gatewaysMu.Unlock()
		_ = gw.Close()
		s.logger.Printf("[API] 🔌 client disconnected id=%s (remaining: %d)", gw.ID, remaining)
	}()

	gw.Start()
	if err := gw.Send(&gateway.ServerMessage{Type: gateway.EventTypeSnapshot, Snapshot: s.world.Snapshot()}); err != nil {
		s.logger.Printf("[API] ⚠️ send snapshot failed: %v", err)
		return
	}

	// 阻塞直到连接关闭
	<-gw.Done()
}

// CloseGateways 关闭所有客户端连接，用于优雅退出。
func (s *Server) CloseGateways() {
	s.gatewaysMu.RLock()
	gws := make([]*gateway.Gateway, 0, len(s.gateways))
	for _, gw := range s.gateways {
		gws = append(gws, gw)
	}
	s.gatewaysMu.RUnlock()
	for _, gw := range gws {
		_ = gw.Close()
	}
}

func (s *Server) originAllowed(origin string) bool {
	allowed := s.config.Server.AllowedOrigins
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// withTimeout 给协作方调用加上上限，避免前端长时间挂起。
func withTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}
