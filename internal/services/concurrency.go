package services

import (
	"context"
	"sync"
	"sync/atomic"
)

// ConcurrencyLimits bounds simultaneous runs.
type ConcurrencyLimits struct {
	GlobalMax int // runs across the process
	PerChat   int // runs on one chat
}

// ConcurrencyLimiter controls how many runs can execute simultaneously.
// It uses channel-based counting semaphores at two levels: global and
// per-chat. With PerChat = 1 requests on the same chat run one at a time,
// so a resume never races the turn that paused.
type ConcurrencyLimiter struct {
	global      chan struct{}
	perChat     map[string]*chatSlots
	mu          sync.Mutex
	limits      ConcurrencyLimits
	activeCount atomic.Int64
}

type chatSlots struct {
	ch    chan struct{}
	users int
}

// NewConcurrencyLimiter creates a limiter with the given limits.
func NewConcurrencyLimiter(limits ConcurrencyLimits) *ConcurrencyLimiter {
	if limits.GlobalMax <= 0 {
		limits.GlobalMax = 100
	}
	if limits.PerChat <= 0 {
		limits.PerChat = 1
	}

	return &ConcurrencyLimiter{
		global:  make(chan struct{}, limits.GlobalMax),
		perChat: make(map[string]*chatSlots),
		limits:  limits,
	}
}

// Acquire blocks until both global and per-chat slots are available,
// or returns an error if the context is cancelled. An empty chat key only
// takes a global slot.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context, chatKey string) error {
	// 1. Acquire global slot.
	select {
	case c.global <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if chatKey == "" {
		c.activeCount.Add(1)
		return nil
	}

	// 2. Acquire per-chat slot.
	slots := c.join(chatKey)
	select {
	case slots.ch <- struct{}{}:
		c.activeCount.Add(1)
		return nil
	case <-ctx.Done():
		c.leave(chatKey, false)
		<-c.global
		return ctx.Err()
	}
}

// Release returns both the global and per-chat slots.
func (c *ConcurrencyLimiter) Release(chatKey string) {
	c.activeCount.Add(-1)
	if chatKey != "" {
		c.leave(chatKey, true)
	}
	select {
	case <-c.global:
	default:
	}
}

// ConcurrencyStats reports current usage.
type ConcurrencyStats struct {
	ActiveRuns  int `json:"activeRuns"`
	ActiveChats int `json:"activeChats"`
	GlobalMax   int `json:"globalMax"`
	PerChat     int `json:"perChat"`
}

// Stats returns the current concurrency statistics.
func (c *ConcurrencyLimiter) Stats() ConcurrencyStats {
	c.mu.Lock()
	chats := len(c.perChat)
	c.mu.Unlock()
	return ConcurrencyStats{
		ActiveRuns:  int(c.activeCount.Load()),
		ActiveChats: chats,
		GlobalMax:   c.limits.GlobalMax,
		PerChat:     c.limits.PerChat,
	}
}

func (c *ConcurrencyLimiter) join(key string) *chatSlots {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.perChat[key]
	if !ok {
		s = &chatSlots{ch: make(chan struct{}, c.limits.PerChat)}
		c.perChat[key] = s
	}
	s.users++
	return s
}

// leave drops one user of key, freeing a slot when held. The entry is
// removed once nobody waits on it.
func (c *ConcurrencyLimiter) leave(key string, held bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.perChat[key]
	if !ok {
		return
	}
	if held {
		select {
		case <-s.ch:
		default:
		}
	}
	s.users--
	if s.users <= 0 {
		delete(c.perChat, key)
	}
}
