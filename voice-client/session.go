package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/adapters/assets"
	"github.com/waqar741/EchoAI/adapters/canvas"
	"github.com/waqar741/EchoAI/adapters/message_broker"
	"github.com/waqar741/EchoAI/adapters/relay"
	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/usecase"
	"github.com/waqar741/EchoAI/utils/config"
	"github.com/waqar741/EchoAI/utils/log"
)

// session wires the client components of one conversation.
type session struct {
	id      string
	machine *usecase.SpeechMachine
	broker  *message_broker.ChannelMessageBroker
	canvas  *canvas.Terminal
	avatar  *usecase.AvatarRenderer
	voice   *usecase.VoiceController
	chat    *usecase.ChatClient
}

func newSession(cfg config.ClientConfig, recognizer domain.Recognizer, synthesizer domain.Synthesizer) (*session, error) {
	id := uuid.NewString()
	machine := usecase.NewSpeechMachine(id)

	broker := message_broker.NewChannelMessageBroker()
	usecase.PublishStates(machine, broker)

	manifest, avatarCfg, err := avatarConfig(cfg)
	if err != nil {
		return nil, err
	}
	c := canvas.NewTerminal(manifest)

	client := relay.NewClient(relay.Config{BaseURL: cfg.RelayURL, APIKey: cfg.RelayAPIKey})
	chat := usecase.NewChatClient(client, usecase.NewConversationStore(), machine, usecase.ChatClientConfig{
		MaxTokens: maxTokens,
		Streaming: streaming,
	})

	return &session{
		id:      id,
		machine: machine,
		broker:  broker,
		canvas:  c,
		avatar:  usecase.NewAvatarRenderer(c, avatarCfg, nil),
		voice:   usecase.NewVoiceController(machine, recognizer, synthesizer),
		chat:    chat,
	}, nil
}

func avatarConfig(cfg config.ClientConfig) (*assets.Manifest, usecase.AvatarConfig, error) {
	avatarCfg := usecase.AvatarConfig{FPS: cfg.AvatarFPS}
	if cfg.AvatarManifest == "" {
		return nil, avatarCfg, nil
	}

	manifest, err := assets.Load(cfg.AvatarManifest)
	if err != nil {
		return nil, avatarCfg, err
	}
	asset, ok := manifest.Lookup(cfg.AvatarAsset)
	if !ok {
		log.Warn("Avatar asset not in manifest, using procedural mouth",
			zap.String("asset", cfg.AvatarAsset), zap.String("manifest", cfg.AvatarManifest))
		return manifest, avatarCfg, nil
	}
	avatarCfg.Asset = asset.Name
	avatarCfg.AssetDuration = asset.Duration()
	return manifest, avatarCfg, nil
}

// start runs the avatar until ctx ends.
func (s *session) start(ctx context.Context) error {
	states, err := s.broker.Subscribe(ctx, domain.SpeechStateTopic, s.id)
	if err != nil {
		return err
	}
	go s.avatar.Follow(ctx, states)
	go s.avatar.Run(ctx)
	return nil
}

func (s *session) close() {
	s.voice.Cancel()
	_ = s.broker.Close()
}

// reply sends transcript to the relay and speaks the answer. onDelta
// receives the reply fragments as they arrive.
func (s *session) reply(ctx context.Context, transcript string, onDelta func(string)) (domain.ConversationTurn, error) {
	ctx = log.WithSessionID(ctx, s.id)
	started := time.Now()

	turn, err := s.chat.Send(ctx, transcript, onDelta)
	if err != nil {
		return turn, err
	}
	log.WithCtx(ctx).Debug("Reply received",
		zap.Int("length", len(turn.Text)), zap.Duration("took", time.Since(started)))

	return turn, s.voice.Speak(ctx, turn.Text)
}
