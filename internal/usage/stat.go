// Package usage tracks token consumption: an in-memory asynchronous
// tally that follows a conversation's lifetime, and an append-only
// SQLite store for durable accounting.
package usage

import (
	"log/slog"
	"sync"
	"time"

	"github.com/halyardai/halyard/internal/token"
)

// Daemon timing. The tracker outlives its nominal lifetime by a slack
// so stragglers are counted, and refuses to exit while traffic is
// still arriving.
const (
	pollInterval    = 10 * time.Millisecond
	lifetimeSlack   = 60 * time.Second
	idleGracePeriod = 600 * time.Second
	defaultStatLife = time.Hour
)

// Totals is a snapshot of the tracker's counters. TotalTextLen
// accumulates across requests; CurrentTextLen is the text size of the
// most recent request only, a cheap proxy for the live context size.
type Totals struct {
	Requests       int64
	Messages       int64
	InputTokens    int64
	OutputTokens   int64
	TotalTokens    int64
	TotalTextLen   int64
	CurrentTextLen int64
}

// Stat is an asynchronous token tally. Producers stage counts into a
// pending buffer under a lock; a background goroutine folds the buffer
// into the totals on a short poll. The goroutine exits once the
// lifetime (plus slack) has passed AND no counts have arrived for the
// idle grace period, so it never dies under active traffic.
type Stat struct {
	logger *slog.Logger

	mu       sync.Mutex
	pending  Totals
	staged   bool
	totals   Totals
	textLen  int64
	lastAdd  time.Time
	deadline time.Time

	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// NewStat starts a tracker expected to live about `lifetime`. A zero
// lifetime gets a sane default.
func NewStat(lifetime time.Duration, logger *slog.Logger) *Stat {
	if lifetime <= 0 {
		lifetime = defaultStatLife
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stat{
		logger:   logger,
		lastAdd:  time.Now(),
		deadline: time.Now().Add(lifetime + lifetimeSlack),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.run()
	return s
}

// AddMessages stages one outbound request: counts tokens across the
// message texts and bumps the request and message tallies.
func (s *Stat) AddMessages(texts []string) {
	tokens := int64(token.CountAll(texts...))
	var textLen int64
	for _, t := range texts {
		textLen += int64(len(t))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.Requests++
	s.pending.Messages += int64(len(texts))
	s.pending.InputTokens += tokens
	s.pending.TotalTokens += tokens
	s.pending.TotalTextLen += textLen
	s.textLen = textLen
	s.staged = true
	s.lastAdd = time.Now()
}

// AddUsage stages provider-reported token counts for one completion.
// Prompt tokens from the provider replace nothing: both tallies are
// kept, the estimate in InputTokens and the authoritative output here.
func (s *Stat) AddUsage(outputTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.OutputTokens += int64(outputTokens)
	s.pending.TotalTokens += int64(outputTokens)
	s.staged = true
	s.lastAdd = time.Now()
}

// Snapshot returns the folded totals. Staged counts not yet folded by
// the daemon are included so callers always see the latest numbers.
func (s *Stat) Snapshot() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.totals
	t.Requests += s.pending.Requests
	t.Messages += s.pending.Messages
	t.InputTokens += s.pending.InputTokens
	t.OutputTokens += s.pending.OutputTokens
	t.TotalTokens += s.pending.TotalTokens
	t.TotalTextLen += s.pending.TotalTextLen
	t.CurrentTextLen = s.textLen
	return t
}

// Log writes the current totals at info level.
func (s *Stat) Log() {
	t := s.Snapshot()
	s.logger.Info("token usage",
		"requests", t.Requests,
		"messages", t.Messages,
		"input_tokens", t.InputTokens,
		"output_tokens", t.OutputTokens,
		"total_tokens", t.TotalTokens,
		"total_text_len", t.TotalTextLen,
		"current_text_len", t.CurrentTextLen)
}

// Stop shuts the daemon down after a final fold. Safe to call more
// than once.
func (s *Stat) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	<-s.finished
}

func (s *Stat) run() {
	defer close(s.finished)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			s.fold()
			return
		case now := <-ticker.C:
			s.fold()
			s.mu.Lock()
			expired := now.After(s.deadline) && now.Sub(s.lastAdd) > idleGracePeriod
			s.mu.Unlock()
			if expired {
				s.logger.Debug("usage tracker expired")
				return
			}
		}
	}
}

// fold merges the staged buffer into the totals.
func (s *Stat) fold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.staged {
		return
	}
	s.totals.Requests += s.pending.Requests
	s.totals.Messages += s.pending.Messages
	s.totals.InputTokens += s.pending.InputTokens
	s.totals.OutputTokens += s.pending.OutputTokens
	s.totals.TotalTokens += s.pending.TotalTokens
	s.totals.TotalTextLen += s.pending.TotalTextLen
	s.pending = Totals{}
	s.staged = false
}
