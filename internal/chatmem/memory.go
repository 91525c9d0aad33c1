// Package chatmem holds the ordered conversation log and persists it.
// The log is written as a single JSON blob under a fixed key after every
// mutation; writes happen in the background and never fail the caller.
package chatmem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neuna/neuna/internal/kvstore"
)

const (
	// StorageKey is the key the conversation log is stored under.
	StorageKey = "neuna.chat.messages"

	storageVersion = 1
	saveTimeout    = 10 * time.Second
)

// Roles a message may carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ErrInvalidRole is returned by Append for a role outside user/assistant/system.
var ErrInvalidRole = errors.New("chatmem: invalid role")

// Image is an image embedded in a message. Data is base64 in JSON.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Message is a single entry in the log. Messages are never modified after
// they are appended.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Image     *Image    `json:"image,omitempty"`
}

type envelope struct {
	Version       int       `json:"version"`
	LastUpdatedMs int64     `json:"last_updated_ms"`
	Messages      []Message `json:"messages"`
}

// Conversation is the persisted, append-only message log.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
	gen      uint64 // bumped on every mutation

	store kvstore.Store
	log   *zap.Logger
	now   func() time.Time

	savedGen uint64 // owned by the writer goroutine
	dirty    chan struct{}
	flushReq chan chan struct{}
	stop     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

// New returns an empty conversation backed by store and starts its
// background writer. Call Close to stop it.
func New(store kvstore.Store, log *zap.Logger) *Conversation {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Conversation{
		store:    store,
		log:      log.Named("chatmem"),
		now:      time.Now,
		dirty:    make(chan struct{}, 1),
		flushReq: make(chan chan struct{}),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go c.writer()
	return c
}

// Restore loads the persisted log, replacing the in-memory one. A missing
// or unreadable record yields an empty log. Pending writes land first, so
// the store never hands back state an earlier Append or Clear replaced.
func (c *Conversation) Restore(ctx context.Context) []Message {
	if err := c.Flush(ctx); err != nil {
		c.log.Warn("pending conversation writes not flushed before restore", zap.Error(err))
	}

	var msgs []Message

	data, err := c.store.Get(ctx, StorageKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		c.log.Warn("could not read conversation, starting empty", zap.Error(err))
	default:
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("stored conversation is corrupt, starting empty", zap.Error(err))
		} else {
			msgs = validMessages(env.Messages)
		}
	}

	c.mu.Lock()
	c.messages = msgs
	out := c.copyLocked()
	c.mu.Unlock()
	return out
}

// validMessages drops entries a hand-edited or truncated file might carry.
func validMessages(in []Message) []Message {
	out := make([]Message, 0, len(in))
	var last time.Time
	for _, m := range in {
		if m.ID == "" || !validRole(m.Role) {
			continue
		}
		if m.CreatedAt.Before(last) {
			m.CreatedAt = last
		}
		last = m.CreatedAt
		out = append(out, m)
	}
	return out
}

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Append adds a text message and returns it.
func (c *Conversation) Append(role, text string) (Message, error) {
	return c.AppendImage(role, text, nil)
}

// AppendImage adds a message carrying an optional image.
func (c *Conversation) AppendImage(role, text string, img *Image) (Message, error) {
	if !validRole(role) {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	c.mu.Lock()
	created := c.now()
	if n := len(c.messages); n > 0 && created.Before(c.messages[n-1].CreatedAt) {
		created = c.messages[n-1].CreatedAt
	}
	msg := Message{
		ID:        id.String(),
		Role:      role,
		Text:      text,
		CreatedAt: created,
		Image:     img,
	}
	c.messages = append(c.messages, msg)
	c.gen++
	c.mu.Unlock()

	c.markDirty()
	return msg, nil
}

// Clear empties the log and erases the persisted copy.
func (c *Conversation) Clear() {
	c.mu.Lock()
	c.messages = nil
	c.gen++
	c.mu.Unlock()

	c.markDirty()
}

// Messages returns a copy of the log in insertion order.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyLocked()
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

func (c *Conversation) copyLocked() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) markDirty() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

// Flush blocks until every mutation made before the call has been handed to
// the store, or ctx is done.
func (c *Conversation) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case c.flushReq <- done:
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes any pending state and stops the background writer.
func (c *Conversation) Close() {
	c.once.Do(func() {
		close(c.stop)
		<-c.stopped
	})
}

func (c *Conversation) writer() {
	defer close(c.stopped)
	for {
		select {
		case <-c.dirty:
			c.persist()
		case done := <-c.flushReq:
			c.persist()
			close(done)
		case <-c.stop:
			c.persist()
			return
		}
	}
}

func (c *Conversation) persist() {
	c.mu.RLock()
	gen := c.gen
	env := envelope{
		Version:  storageVersion,
		Messages: c.copyLocked(),
	}
	c.mu.RUnlock()

	if gen == c.savedGen {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	var err error
	if len(env.Messages) == 0 {
		err = c.store.Delete(ctx, StorageKey)
	} else {
		env.LastUpdatedMs = env.Messages[len(env.Messages)-1].CreatedAt.UnixMilli()
		var data []byte
		data, err = json.Marshal(env)
		if err == nil {
			err = c.store.Put(ctx, StorageKey, data)
		}
	}
	if err != nil {
		// left dirty; the next mutation or flush retries
		c.log.Warn("failed to persist conversation", zap.Error(err), zap.Int("messages", len(env.Messages)))
		return
	}
	c.savedGen = gen
}
