package tts

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pocket-companion/server/internal/config"
)

// mockMiniMax 按协议顺序回应一次合成。
func mockMiniMax(t *testing.T, chunks [][]byte, gotStart chan<- map[string]any) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer header")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]any{"event": "connected_success"})

		var start map[string]any
		if err := conn.ReadJSON(&start); err != nil {
			t.Errorf("read task_start: %v", err)
			return
		}
		if gotStart != nil {
			gotStart <- start
		}
		_ = conn.WriteJSON(map[string]any{"event": "task_started"})

		var cont map[string]any
		if err := conn.ReadJSON(&cont); err != nil || cont["event"] != "task_continue" {
			t.Errorf("expected task_continue, got %v err=%v", cont, err)
			return
		}
		for i, chunk := range chunks {
			_ = conn.WriteJSON(map[string]any{
				"data":     map[string]any{"audio": hex.EncodeToString(chunk)},
				"is_final": i == len(chunks)-1,
			})
		}
		var finish map[string]any
		_ = conn.ReadJSON(&finish)
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// TestMiniMaxSynthesize 验证协议握手、分片拼接与时长估算。
func TestMiniMaxSynthesize(t *testing.T) {
	chunks := [][]byte{[]byte("hello "), []byte("world")}
	starts := make(chan map[string]any, 1)
	server := mockMiniMax(t, chunks, starts)
	defer server.Close()

	client := NewMiniMaxClient(config.TTSConfig{
		APIKey: "test-key", URL: wsURL(server), Model: "speech-2.6-hd",
		Speed: 1.0, SampleRate: 32000, Bitrate: 128000,
	}, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clip, err := client.Synthesize(ctx, "你好", "male-qn")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	audio, _ := base64.StdEncoding.DecodeString(clip.AudioBase64)
	if string(audio) != "hello world" {
		t.Fatalf("unexpected audio %q", audio)
	}
	if clip.DurationMs != EstimateDurationMs(11, 128000) {
		t.Fatalf("unexpected duration %v", clip.DurationMs)
	}

	start := <-starts
	voice, _ := start["voice_setting"].(map[string]any)
	if start["event"] != "task_start" || voice["voice_id"] != "male-qn" {
		t.Fatalf("unexpected task_start: %v", start)
	}
}

// TestMiniMaxEmptyText 验证空文本不建连直接失败。
func TestMiniMaxEmptyText(t *testing.T) {
	client := NewMiniMaxClient(config.TTSConfig{URL: "ws://127.0.0.1:1"}, nil)
	if _, err := client.Synthesize(context.Background(), "  ", "v"); err != ErrEmptyText {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

// TestEstimateDurationMs 验证 128kbps 下 16KB 约等于 1 秒。
func TestEstimateDurationMs(t *testing.T) {
	if got := EstimateDurationMs(16384, 128000); got != 1000 {
		t.Fatalf("expected 1000ms, got %v", got)
	}
	if got := EstimateDurationMs(0, 128000); got != 0 {
		t.Fatalf("expected 0 for empty audio, got %v", got)
	}
}
