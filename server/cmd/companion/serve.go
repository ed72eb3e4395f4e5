package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pocket-companion/server/internal/api"
	"pocket-companion/server/internal/clock"
	"pocket-companion/server/internal/companion"
	"pocket-companion/server/internal/config"
	"pocket-companion/server/internal/llm"
	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/orchestrator"
	"pocket-companion/server/internal/presence"
	"pocket-companion/server/internal/session"
	"pocket-companion/server/internal/speech"
	"pocket-companion/server/internal/tts"
	"pocket-companion/server/internal/world"
)

const (
	shutdownTimeout  = 10 * time.Second
	bootstrapTimeout = 2 * time.Minute
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the companion engine with its HTTP/WebSocket surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// app 是组装好的全部组件。
type app struct {
	world    *world.World
	chat     *orchestrator.Orchestrator
	presence *presence.Monitor
	speech   *speech.Queue
	server   *api.Server
}

func newStore(cfg *config.Config) session.Store {
	if cfg.Storage.Backend == "memory" {
		return session.NewInMemoryStore()
	}
	return session.NewFileStore(cfg.Storage.Path)
}

func wire(cfg *config.Config, logger *log.Logger) (*app, error) {
	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	service := companion.NewLLMService(client, logger)
	store := newStore(cfg)

	persona := model.Persona{Name: cfg.Persona.Name, Prompt: cfg.Persona.Prompt, VoiceID: cfg.Persona.VoiceID}
	sess := session.New(persona, nil, session.NewBroadcaster(logger))

	clk, err := clock.New(cfg.Clock.StartTime(), cfg.Clock.Presets, cfg.Clock.Preset(), clock.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init clock: %w", err)
	}

	w := world.New(sess, clk, service, store, world.Config{
		EventProbability: cfg.Clock.EventProbability,
		ScheduleSettle:   cfg.Clock.ScheduleSettle,
	}, world.WithLogger(logger))

	chatOpts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	var (
		synth speech.Synthesizer
		queue *speech.Queue
	)
	if cfg.TTS.Enabled {
		synth = tts.NewMiniMaxClient(cfg.TTS, logger)
		queue = speech.NewQueue(synth, speech.SleepPlayer(func(item speech.Item, clip speech.Clip) {
			sess.Publish(voiceNotification(item, clip))
		}), logger)
		chatOpts = append(chatOpts, orchestrator.WithSpeaker(queue))
	}

	chat := orchestrator.New(sess, service, clk, store, orchestrator.Config{
		HistoryWindow:  cfg.Chat.HistoryWindow,
		NetworkLatency: cfg.Chat.NetworkLatency,
		LongWait:       cfg.Chat.LongWait,
		TypingWindow:   cfg.Chat.TypingWindow,
		FaceToFace:     orchestrator.Pacing{Base: cfg.Chat.FaceToFace.PauseBase, PerChar: cfg.Chat.FaceToFace.PausePerChar},
		Remote:         orchestrator.Pacing{Base: cfg.Chat.Remote.PauseBase, PerChar: cfg.Chat.Remote.PausePerChar},
		BubbleLinger:   cfg.Chat.BubbleLinger,
		Voice:          cfg.Chat.Voice,
	}, chatOpts...)

	mon := presence.New(sess, clk, chat, cfg.Presence.IdleThreshold, presence.WithLogger(logger))

	srv := api.NewServer(cfg, api.Deps{
		World:    w,
		Chat:     chat,
		Presence: mon,
		Service:  service,
		Synth:    synth,
		Logger:   logger,
	})

	return &app{world: w, chat: chat, presence: mon, speech: queue, server: srv}, nil
}

// voiceNotification 把开始播放的语音转成通知。语音不区分通道，两个通道的回复共用一条播放队列。
func voiceNotification(item speech.Item, clip speech.Clip) session.Notification {
	return session.Notification{
		Type:        session.NotifyVoice,
		Text:        item.Text,
		AudioBase64: clip.AudioBase64,
		DurationMs:  int(clip.DurationMs),
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := log.Default()
	if cfg.Logging.Verbose() {
		logger.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	a, err := wire(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hasSchedule, err := a.world.Load(ctx)
	if err != nil {
		// 存档损坏不阻止启动，按首次启动处理
		logger.Printf("[Main] ⚠️ load record failed: %v", err)
	}

	a.world.Start()
	a.presence.Start()

	if !hasSchedule {
		go func() {
			bootCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
			defer cancel()
			persona := a.world.Session().Persona()
			if _, err := a.world.Regenerate(bootCtx, persona); err != nil {
				logger.Printf("[Main] ⚠️ initial schedule generation failed: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.server.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("[Main] companion server listening on %s", cfg.Server.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Printf("[Main] shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("[Main] ⚠️ http shutdown: %v", err)
	}
	a.shutdown()

	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}

// shutdown 按依赖倒序停止组件：先断开客户端，再停时钟和流水线。
func (a *app) shutdown() {
	a.server.CloseGateways()
	a.presence.Stop()
	a.world.Stop()
	a.chat.Close()
	if a.speech != nil {
		_ = a.speech.Close()
	}
}
