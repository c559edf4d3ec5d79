package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dootlabs/doot/pkg/bus"
	"github.com/dootlabs/doot/pkg/store"
)

// Roles used in the shared conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in the shared conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Executor runs one turn of reasoning over a conversation. Implementations
// must be safe for concurrent calls with distinct histories; serialization of
// turns against the shared session is the Coordinator's job, not the
// executor's. An empty promptOverride lets the executor pick its own system
// prompt from the latest user message.
type Executor interface {
	Execute(ctx context.Context, history []Message, promptOverride string) ([]Message, string, error)
}

// Coordinator owns the single shared conversation and is the mutual-exclusion
// boundary around it. Every entry surface submits turns through SubmitTurn;
// turns are never interleaved, and a failed turn leaves no trace in the
// state.
type Coordinator struct {
	mu       sync.Mutex
	store    *store.Store
	key      string
	executor Executor
	timeout  time.Duration
	state    []Message
}

// NewCoordinator loads the persisted session (an unreadable document resets
// to an empty conversation with a warning) and returns the coordinator.
// timeout bounds each executor call; zero means no bound.
func NewCoordinator(st *store.Store, key string, executor Executor, timeout time.Duration) *Coordinator {
	c := &Coordinator{
		store:    st,
		key:      key,
		executor: executor,
		timeout:  timeout,
	}
	var msgs []Message
	ok, err := st.ReadJSON(key, &msgs)
	if err != nil {
		log.Printf("Could not load session %s, starting empty: %v", key, err)
	} else if ok {
		c.state = msgs
	}
	return c
}

// SubmitTurn appends the incoming message, runs one turn through the
// executor, persists the updated conversation and returns the reply. Access
// to the shared state is exclusive for the whole turn. On executor failure
// the appended message is rolled back and the error returned; the state never
// reflects half of a turn.
func (c *Coordinator) SubmitTurn(ctx context.Context, origin bus.Origin, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	mark := len(c.state)
	c.state = append(c.state, Message{Role: RoleUser, Content: text, Timestamp: time.Now()})

	newHistory, reply, err := c.executor.Execute(ctx, c.state, "")
	if err != nil {
		c.state = c.state[:mark]
		return "", fmt.Errorf("turn failed (origin=%s): %w", origin, err)
	}
	c.state = newHistory

	// A persist failure is tolerated: the next successful turn rewrites the
	// whole document.
	if err := c.store.WriteJSON(c.key, c.state); err != nil {
		log.Printf("Could not persist session %s: %v", c.key, err)
	}
	return reply, nil
}

// History returns a copy of the current conversation. Callers observe either
// the pre-turn or post-turn state, never an intermediate one.
func (c *Coordinator) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.state))
	copy(out, c.state)
	return out
}

// Clear resets the conversation and deletes the persisted document.
func (c *Coordinator) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = nil
	return c.store.Delete(c.key)
}
