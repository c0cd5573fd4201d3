package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/halyardai/halyard/internal/config"
	"github.com/halyardai/halyard/internal/httpkit"
	"github.com/halyardai/halyard/internal/stepfmt"
	"github.com/halyardai/halyard/internal/usage"
)

// Params are the completion request knobs sent with every call.
type Params struct {
	Model            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	Stream           bool
	// NativeToolCalls sends the tool schema on the wire. When false,
	// tools live in the system prompt and replies use the step text
	// protocol.
	NativeToolCalls bool
}

// Endpoint is one upstream credential set.
type Endpoint struct {
	APIKey  string
	BaseURL string
}

// Retry machine bounds.
const (
	// maxAttempts is the absolute ceiling on one Chat call, however
	// much the budget grows.
	maxAttempts = 100

	// DefaultRetryTimes is the initial retry budget.
	DefaultRetryTimes = 10

	// budgetExtendAfter is the attempt index past which transient
	// errors earn one extra unit of budget each.
	budgetExtendAfter = 7

	// poolRebuildEvery rebuilds the endpoint client pool after this
	// many internal server errors, in case the pooled connections
	// themselves have gone bad.
	poolRebuildEvery = 6
)

// Model is a chat-completions gateway over one or more endpoints.
// Safe for concurrent use: per-call state lives on the stack.
type Model struct {
	params     Params
	endpoints  []Endpoint
	clients    []*http.Client
	tools      []map[string]any
	retryTimes int
	logger     *slog.Logger
	stat       *usage.Stat
	usageStore *usage.Store
	onDelta    func(string)

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// WithTools attaches the tool schema sent when native tool calls are
// enabled.
func WithTools(tools []map[string]any) Option {
	return func(m *Model) { m.tools = tools }
}

// WithRetryTimes overrides the initial retry budget.
func WithRetryTimes(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.retryTimes = n
		}
	}
}

// WithStat attaches the in-memory token tracker.
func WithStat(s *usage.Stat) Option {
	return func(m *Model) { m.stat = s }
}

// WithUsageStore attaches the durable usage store. Records are written
// best-effort; a failed write never fails the chat.
func WithUsageStore(s *usage.Store) Option {
	return func(m *Model) { m.usageStore = s }
}

// WithStreamHandler receives content deltas as they arrive, for live
// terminal display. Only fires in streaming mode.
func WithStreamHandler(fn func(string)) Option {
	return func(m *Model) { m.onDelta = fn }
}

// New builds a gateway. At least one endpoint is required.
func New(params Params, endpoints []Endpoint, opts ...Option) (*Model, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("llm: no endpoints configured")
	}
	m := &Model{
		params:     params,
		endpoints:  endpoints,
		retryTimes: DefaultRetryTimes,
		logger:     slog.Default(),
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(m)
	}
	m.rebuildClients()
	return m, nil
}

// rebuildClients replaces the per-endpoint client pool. Timeout zero:
// streaming responses can run for minutes, the transport's header
// timeout still bounds a dead upstream.
func (m *Model) rebuildClients() {
	clients := make([]*http.Client, len(m.endpoints))
	for i := range m.endpoints {
		clients[i] = httpkit.NewClient(httpkit.WithTimeout(0))
	}
	m.clients = clients
}

// Chat runs one completion with the full retry policy and returns the
// normalized result. On exhaustion the last error is wrapped in
// ErrChatFailed.
func (m *Model) Chat(ctx context.Context, messages []Message, sessionID string) (*Result, error) {
	state := retryState{budget: m.retryTimes}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > state.budget {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := m.once(ctx, messages, sessionID)
		if err == nil {
			return res, nil
		}
		lastErr = err

		kind := classify(err)
		m.logger.Warn("chat attempt failed",
			"attempt", i,
			"budget", state.budget,
			"kind", kind.String(),
			"error", err)

		switch kind {
		case kindFormat:
			// Malformed output, not an upstream fault. Ask again now.
			continue
		case kindRateLimit:
			if i > budgetExtendAfter {
				state.budget++
			}
			var apiErr *apiError
			if errors.As(err, &apiErr) {
				m.logger.Warn("rate limited", "key", apiErr.keyHint)
			}
		case kindServer:
			state.serverErrs++
			if state.serverErrs%poolRebuildEvery == 0 {
				m.logger.Info("rebuilding endpoint client pool",
					"server_errors", state.serverErrs)
				m.rebuildClients()
			}
			if i > budgetExtendAfter {
				state.budget++
			}
		case kindConn, kindTimeout:
			if i > budgetExtendAfter {
				state.budget++
			}
		case kindBadRequest:
			var apiErr *apiError
			if errors.As(err, &apiErr) && looksLikeContextOverflow(apiErr.body) {
				m.logger.Warn("request rejected for context length",
					"body", apiErr.body)
			}
		case kindPermission:
			// Retried, but never worth extra budget.
		}

		if err := m.sleep(ctx, backoff(i, state.budget)); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrChatFailed, lastErr)
}

// retryState is the explicit policy state for one Chat call.
type retryState struct {
	budget     int
	serverErrs int
}

// backoff is a rotating linear delay: (i mod budget)*5 seconds,
// clamped to [3s, 120s].
func backoff(i, budget int) time.Duration {
	if budget <= 0 {
		budget = 1
	}
	s := (i % budget) * 5
	if s < 3 {
		s = 3
	}
	if s > 120 {
		s = 120
	}
	return time.Duration(s) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// once runs a single attempt end to end: build, send, reassemble,
// normalize, account.
func (m *Model) once(ctx context.Context, messages []Message, sessionID string) (*Result, error) {
	idx := rand.IntN(len(m.endpoints))
	ep := m.endpoints[idx]
	client := m.clients[idx]

	payload, err := json.Marshal(m.buildParams(messages))
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	if m.stat != nil {
		texts := make([]string, len(messages))
		for i, msg := range messages {
			texts[i] = msg.Content
		}
		m.stat.AddMessages(texts)
	}

	m.logger.Log(ctx, config.LevelTrace, "chat request",
		"endpoint", ep.BaseURL, "payload", string(payload))

	url := strings.TrimRight(ep.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, &apiError{
			status:  resp.StatusCode,
			body:    body,
			keyHint: keyHint(ep.APIKey),
		}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var msg Message
	var u Usage
	if m.params.Stream {
		msg, u, err = m.readStream(resp.Body)
	} else {
		msg, u, err = readCompletion(resp.Body)
	}
	if err != nil {
		return nil, err
	}

	// Tool calls with no prose still need a dispatchable body; nothing
	// at all is a hard provider fault.
	if strings.TrimSpace(msg.Content) == "" {
		if len(msg.ToolCalls) == 0 {
			return nil, ErrNoResponse
		}
		msg.Content = stepfmt.ActionPlaceholder
	}

	steps, err := normalizeContent(msg.Content)
	if err != nil {
		return nil, err
	}

	if m.stat != nil {
		m.stat.AddUsage(u.CompletionTokens)
		m.stat.Log()
	}
	if m.usageStore != nil {
		rec := usage.Record{
			SessionID:    sessionID,
			Model:        m.params.Model,
			InputTokens:  u.PromptTokens,
			OutputTokens: u.CompletionTokens,
			MsgCount:     len(messages),
		}
		if err := m.usageStore.Record(ctx, rec); err != nil {
			m.logger.Warn("usage record failed", "error", err)
		}
	}

	return &Result{Message: msg, Steps: steps, Usage: u}, nil
}

// buildParams shapes the wire request. Messages are deep-copied first:
// the text-protocol reformat pass must never leak into the caller's
// conversation state.
func (m *Model) buildParams(messages []Message) map[string]any {
	msgs := copyMessages(messages)

	if !m.params.NativeToolCalls && len(msgs) > 0 && stepfmt.HasMarker(msgs[0].Content) {
		reformatSteps(msgs)
	}

	req := map[string]any{
		"model":             m.params.Model,
		"messages":          msgs,
		"temperature":       m.params.Temperature,
		"max_tokens":        m.params.MaxTokens,
		"top_p":             m.params.TopP,
		"frequency_penalty": m.params.FrequencyPenalty,
		"n":                 1,
		"stop":              nil,
		"stream":            m.params.Stream,
	}
	if m.params.Stream {
		// Without this the final chunk carries no usage block and the
		// accounting path records zeros.
		req["stream_options"] = map[string]any{"include_usage": true}
	}
	if m.params.NativeToolCalls && len(m.tools) > 0 {
		req["tools"] = m.tools
		req["tool_choice"] = "auto"
	}
	return req
}

func copyMessages(in []Message) []Message {
	out := make([]Message, len(in))
	copy(out, in)
	for i := range out {
		if len(out[i].ToolCalls) > 0 {
			tcs := make([]ToolCall, len(out[i].ToolCalls))
			copy(tcs, out[i].ToolCalls)
			out[i].ToolCalls = tcs
		}
	}
	return out
}

// reformatSteps rewrites serialized step lists below the header into
// marker text, which models continue far more reliably than raw JSON.
func reformatSteps(msgs []Message) {
	for i := 2; i < len(msgs); i++ {
		content := strings.TrimSpace(msgs[i].Content)
		if content == "" || (content[0] != '{' && content[0] != '[') {
			continue
		}
		var steps []stepfmt.Step
		if err := json.Unmarshal([]byte(content), &steps); err != nil || len(steps) == 0 {
			continue
		}
		msgs[i].Content = stepfmt.Text(steps)
	}
}

// apiError is a non-200 upstream response.
type apiError struct {
	status  int
	body    string
	keyHint string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.status, e.body)
}

// keyHint exposes just enough of an API key to identify it in logs.
func keyHint(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}

// errorKind buckets a failed attempt for the retry policy.
type errorKind int

const (
	kindOther errorKind = iota
	kindFormat
	kindRateLimit
	kindServer
	kindConn
	kindTimeout
	kindBadRequest
	kindPermission
)

func (k errorKind) String() string {
	switch k {
	case kindFormat:
		return "format"
	case kindRateLimit:
		return "rate_limit"
	case kindServer:
		return "server"
	case kindConn:
		return "connection"
	case kindTimeout:
		return "timeout"
	case kindBadRequest:
		return "bad_request"
	case kindPermission:
		return "permission"
	}
	return "other"
}

func classify(err error) errorKind {
	if errors.Is(err, ErrBadFormat) || errors.Is(err, ErrNoResponse) {
		return kindFormat
	}

	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.status == http.StatusTooManyRequests:
			return kindRateLimit
		case apiErr.status >= 500:
			return kindServer
		case apiErr.status == http.StatusBadRequest:
			return kindBadRequest
		case apiErr.status == http.StatusUnauthorized || apiErr.status == http.StatusForbidden:
			return kindPermission
		}
		return kindOther
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return kindTimeout
		}
		return kindConn
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kindTimeout
	}
	return kindConn
}

// looksLikeContextOverflow recognizes the 400 phrasing providers use
// when the prompt outgrew the model's window.
func looksLikeContextOverflow(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "exceed") ||
		strings.Contains(lower, "maximum context")
}
