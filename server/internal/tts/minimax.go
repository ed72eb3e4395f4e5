package tts

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pocket-companion/server/internal/config"
	"pocket-companion/server/internal/speech"
)

// ErrEmptyText 表示待合成文本为空。
var ErrEmptyText = errors.New("tts: empty text")

// MiniMaxClient 是 MiniMax t2a_v2 WebSocket 协议客户端，每次合成独立建连。
//
// 协议：connected_success -> task_start -> task_started -> task_continue{text}
// -> 若干带 hex 音频的分片直到 is_final -> task_finish。
type MiniMaxClient struct {
	cfg    config.TTSConfig
	dialer *websocket.Dialer
	logger *log.Logger
}

// NewMiniMaxClient 创建 TTS 客户端。
func NewMiniMaxClient(cfg config.TTSConfig, logger *log.Logger) *MiniMaxClient {
	if logger == nil {
		logger = log.Default()
	}
	return &MiniMaxClient{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		logger: logger,
	}
}

type taskStart struct {
	Event        string       `json:"event"`
	Model        string       `json:"model"`
	VoiceSetting voiceSetting `json:"voice_setting"`
	AudioSetting audioSetting `json:"audio_setting"`
}

type voiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
}

type audioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
	Format     string `json:"format"`
	Channel    int    `json:"channel"`
}

type serverEvent struct {
	Event string `json:"event"`
	Data  *struct {
		Audio string `json:"audio"`
	} `json:"data,omitempty"`
	IsFinal  bool `json:"is_final"`
	BaseResp *struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp,omitempty"`
}

// Synthesize 合成一段语音，返回 base64 音频和按码率估算的时长。
func (c *MiniMaxClient) Synthesize(ctx context.Context, text, voiceID string) (speech.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return speech.Clip{}, ErrEmptyText
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return speech.Clip{}, fmt.Errorf("dial tts: status=%d err=%w", resp.StatusCode, err)
		}
		return speech.Clip{}, fmt.Errorf("dial tts: %w", err)
	}
	defer conn.Close()

	// ctx 取消时关闭连接，打断阻塞中的读。
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	evt, err := readEvent(conn)
	if err != nil {
		return speech.Clip{}, fmt.Errorf("read connected: %w", err)
	}
	if evt.Event != "connected_success" {
		return speech.Clip{}, fmt.Errorf("tts connect failed: event=%s", evt.Event)
	}

	start := taskStart{
		Event: "task_start",
		Model: c.cfg.Model,
		VoiceSetting: voiceSetting{
			VoiceID: voiceID,
			Speed:   c.cfg.Speed,
			Vol:     1.0,
		},
		AudioSetting: audioSetting{
			SampleRate: c.cfg.SampleRate,
			Bitrate:    c.cfg.Bitrate,
			Format:     "mp3",
			Channel:    1,
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		return speech.Clip{}, fmt.Errorf("send task_start: %w", err)
	}

	evt, err = readEvent(conn)
	if err != nil {
		return speech.Clip{}, fmt.Errorf("read task_started: %w", err)
	}
	if evt.Event != "task_started" {
		return speech.Clip{}, fmt.Errorf("tts task start failed: event=%s", evt.Event)
	}

	if err := conn.WriteJSON(map[string]string{"event": "task_continue", "text": text}); err != nil {
		return speech.Clip{}, fmt.Errorf("send task_continue: %w", err)
	}

	var audio []byte
	for {
		evt, err := readEvent(conn)
		if err != nil {
			return speech.Clip{}, fmt.Errorf("read audio: %w", err)
		}
		if evt.Event == "task_failed" {
			msg := ""
			if evt.BaseResp != nil {
				msg = evt.BaseResp.StatusMsg
			}
			return speech.Clip{}, fmt.Errorf("tts task failed: %s", msg)
		}
		if evt.Data != nil && evt.Data.Audio != "" {
			chunk, err := hex.DecodeString(evt.Data.Audio)
			if err != nil {
				return speech.Clip{}, fmt.Errorf("decode audio chunk: %w", err)
			}
			audio = append(audio, chunk...)
		}
		if evt.IsFinal {
			break
		}
	}

	if err := conn.WriteJSON(map[string]string{"event": "task_finish"}); err != nil {
		c.logger.Printf("[TTS] ⚠️ send task_finish failed: %v", err)
	}

	return speech.Clip{
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		DurationMs:  EstimateDurationMs(len(audio), c.cfg.Bitrate),
	}, nil
}

// EstimateDurationMs 按恒定码率估算 mp3 时长；bitrate 为 bps，默认 128kbps。
func EstimateDurationMs(size, bitrate int) float64 {
	if size <= 0 {
		return 0
	}
	if bitrate <= 0 {
		bitrate = 128000
	}
	// 128kbps 按 128*1024/8 字节每秒估算
	bytesPerSecond := float64(bitrate) / 1000 * 1024 / 8
	return float64(size) / bytesPerSecond * 1000
}

func readEvent(conn *websocket.Conn) (*serverEvent, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var evt serverEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("unmarshal tts event: %w", err)
	}
	return &evt, nil
}
