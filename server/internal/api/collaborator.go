package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pocket-companion/server/internal/companion"
	"pocket-companion/server/internal/model"
)

const collaboratorTimeout = 90 * time.Second

type personaInput struct {
	Name    string `json:"name" binding:"required"`
	Persona string `json:"persona"`
}

type contextInput struct {
	Name         string `json:"name" binding:"required"`
	Persona      string `json:"persona"`
	TimeInfo     string `json:"time_info"`
	ScheduleInfo string `json:"schedule_info"`
}

type chatInput struct {
	contextInput
	UserMessage string           `json:"user_message"`
	History     []model.ChatTurn `json:"history"`
}

type ttsInput struct {
	Text    string `json:"text" binding:"required"`
	VoiceID string `json:"voice_id"`
}

func (in contextInput) eventRequest() companion.EventRequest {
	return companion.EventRequest{
		Persona:      model.Persona{Name: in.Name, Prompt: in.Persona},
		TimeInfo:     in.TimeInfo,
		ScheduleInfo: in.ScheduleInfo,
	}
}

// handleGenerateSchedule 根据角色生成作息。
func (s *Server) handleGenerateSchedule(c *gin.Context) {
	var in personaInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	ctx, cancel := withTimeout(c, collaboratorTimeout)
	defer cancel()

	sched, err := s.service.GenerateSchedule(ctx, model.Persona{Name: in.Name, Prompt: in.Persona})
	if err != nil {
		s.logger.Printf("[API] ❌ generate_schedule failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "generate schedule failed"})
		return
	}
	c.JSON(http.StatusOK, sched)
}

// handleChatReply 生成一批回复；失败时同样返回兜底消息，保持前端展示一致。
func (s *Server) handleChatReply(c *gin.Context) {
	var in chatInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	ctx, cancel := withTimeout(c, collaboratorTimeout)
	defer cancel()

	req := companion.ChatRequest{
		Persona:      model.Persona{Name: in.Name, Prompt: in.Persona},
		TimeInfo:     in.TimeInfo,
		ScheduleInfo: in.ScheduleInfo,
		UserMessage:  in.UserMessage,
		History:      in.History,
	}
	messages, err := s.service.ChatReply(ctx, req)
	if err != nil {
		s.logger.Printf("[API] ❌ chat failed: %v", err)
		messages = []model.ReplyMessage{{Content: companion.FailedChatText}}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// handleRandomEvent 生成一个突发事件草稿。
func (s *Server) handleRandomEvent(c *gin.Context) {
	var in contextInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	ctx, cancel := withTimeout(c, collaboratorTimeout)
	defer cancel()

	draft, err := s.service.RandomEvent(ctx, in.eventRequest())
	if err != nil {
		s.logger.Printf("[API] ❌ random_event failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "random event failed"})
		return
	}
	c.JSON(http.StatusOK, draft)
}

// handleTTS 合成一段语音。
func (s *Server) handleTTS(c *gin.Context) {
	if s.synth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tts disabled"})
		return
	}
	var in ttsInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text required"})
		return
	}
	if in.VoiceID == "" {
		in.VoiceID = s.world.Session().Persona().VoiceID
	}
	ctx, cancel := withTimeout(c, collaboratorTimeout)
	defer cancel()

	clip, err := s.synth.Synthesize(ctx, in.Text, in.VoiceID)
	if err != nil {
		s.logger.Printf("[API] ❌ tts failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "tts failed"})
		return
	}
	c.JSON(http.StatusOK, clip)
}
