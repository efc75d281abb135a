package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/utils/log"
)

// ConversationStore is the ordered, append-only list of turns of one
// session. Reset is the only way to remove turns.
type ConversationStore struct {
	mu    sync.RWMutex
	turns []domain.ConversationTurn
	now   func() time.Time
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{now: time.Now}
}

func (s *ConversationStore) Append(role domain.Role, text string, isError bool) domain.ConversationTurn {
	turn := domain.ConversationTurn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: s.now(),
		Error:     isError,
	}
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
	return turn
}

// Snapshot returns a copy of the turns, oldest first.
func (s *ConversationStore) Snapshot() []domain.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ConversationTurn(nil), s.turns...)
}

func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

func (s *ConversationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

// toMessages converts turns to relay messages. Error markers exist only on
// the client and are left out.
func toMessages(turns []domain.ConversationTurn) []domain.ChatMessage {
	return lo.FilterMap(turns, func(t domain.ConversationTurn, _ int) (domain.ChatMessage, bool) {
		return domain.ChatMessage{Role: t.Role, Content: t.Text}, !t.Error
	})
}

type ChatClientConfig struct {
	MaxTokens   int
	Temperature *float64
	// Streaming selects /api/chat/stream over /api/chat.
	Streaming bool
}

// ChatClient sends user utterances to the relay and records the replies.
// One request is in flight at a time: Send and Reset cancel the previous
// one, whose partial reply is discarded.
type ChatClient struct {
	relay   domain.ChatRelay
	store   *ConversationStore
	machine *SpeechMachine
	cfg     ChatClientConfig

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewChatClient builds a client. machine may be nil when no voice state is
// tracked.
func NewChatClient(relay domain.ChatRelay, store *ConversationStore, machine *SpeechMachine, cfg ChatClientConfig) *ChatClient {
	return &ChatClient{
		relay:   relay,
		store:   store,
		machine: machine,
		cfg:     cfg,
	}
}

func (c *ChatClient) Store() *ConversationStore { return c.store }

// begin cancels the request in flight, records the user turn and returns
// the messages to send.
func (c *ChatClient) begin(ctx context.Context, transcript string) (context.Context, uint64, []domain.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	ctx, c.cancel = context.WithCancel(ctx)
	c.store.Append(domain.UserRole, transcript, false)
	return ctx, c.gen, toMessages(c.store.Snapshot())
}

// commit records a turn unless the request was superseded meanwhile.
func (c *ChatClient) commit(gen uint64, text string, isError bool) (domain.ConversationTurn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return domain.ConversationTurn{}, false
	}
	c.cancel()
	c.cancel = nil
	return c.store.Append(domain.AssistantRole, text, isError), true
}

// Send records transcript as a user turn and requests a reply. onDelta, if
// set, receives reply fragments in arrival order. The assistant turn is
// recorded only once the reply is complete; on failure an error-marker turn
// is recorded instead and the speech machine is told no response is pending.
func (c *ChatClient) Send(ctx context.Context, transcript string, onDelta func(string)) (domain.ConversationTurn, error) {
	ctx, gen, messages := c.begin(ctx, transcript)
	req := domain.ChatRequest{
		Messages:    messages,
		Temperature: c.cfg.Temperature,
	}
	if n := c.cfg.MaxTokens; n > 0 {
		req.MaxTokens = &n
	}

	var pending strings.Builder
	err := c.request(ctx, req, func(delta string) {
		pending.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	})

	if err == nil {
		if turn, ok := c.commit(gen, pending.String(), false); ok {
			return turn, nil
		}
		return domain.ConversationTurn{}, context.Canceled
	}

	if errors.Is(err, context.Canceled) {
		if c.current(gen) {
			c.responseFailed()
		}
		return domain.ConversationTurn{}, context.Canceled
	}

	log.WithCtx(ctx).Warn("Chat request failed", zap.Error(err), zap.Int("partial_len", pending.Len()))
	if _, ok := c.commit(gen, ErrorText(err), true); !ok {
		return domain.ConversationTurn{}, context.Canceled
	}
	c.responseFailed()
	return domain.ConversationTurn{}, err
}

func (c *ChatClient) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *ChatClient) responseFailed() {
	if c.machine != nil {
		_, _ = c.machine.Fire(ResponseFailed)
	}
}

func (c *ChatClient) request(ctx context.Context, req domain.ChatRequest, onDelta func(string)) error {
	if c.cfg.Streaming {
		return c.relay.ChatStream(ctx, req, onDelta)
	}
	resp, err := c.relay.Chat(ctx, req)
	if err != nil {
		return err
	}
	onDelta(resp.Response)
	return nil
}

// Reset cancels any request in flight, clears the conversation and returns
// the speech machine to idle.
func (c *ChatClient) Reset() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.store.Clear()
	c.mu.Unlock()

	if c.machine != nil {
		_, _ = c.machine.Fire(Reset)
	}
}

// ErrorText is the message recorded in an error-marker turn.
func ErrorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		return "The relay rejected the API key."
	case errors.Is(err, domain.ErrRateLimited):
		return "Too many requests. Please wait a moment and try again."
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "The assistant took too long to answer. Please try again."
	case errors.Is(err, domain.ErrUpstream):
		return "The assistant is unavailable right now. Please try again."
	case errors.Is(err, domain.ErrInvalidRequest):
		return "That message could not be sent."
	}
	return fmt.Sprintf("Something went wrong: %v", err)
}
