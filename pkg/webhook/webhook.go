// Package webhook posts execution events to configured HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/runlog-project/runlog/pkg/logging"
)

// EventType names an event that can trigger webhooks.
type EventType string

const (
	EventExecutionStarted  EventType = "execution.started"
	EventExecutionFinished EventType = "execution.finished"
	EventArchived          EventType = "transcript.archived"
	EventGCComplete        EventType = "gc.complete"

	// EventAll matches every event in HookConfig.Events.
	EventAll EventType = "*"
)

// Event is the JSON payload posted to a hook.
type Event struct {
	Event       EventType      `json:"event"`
	Timestamp   string         `json:"timestamp"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Script      string         `json:"script,omitempty"`
	User        string         `json:"user,omitempty"`
	ExitCode    *int           `json:"exit_code,omitempty"`
	Transcript  string         `json:"transcript,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// HookConfig represents a single webhook.
type HookConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Secret  string        `yaml:"secret,omitempty" json:"-"`
	Events  []EventType   `yaml:"events" json:"events"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Enabled bool          `yaml:"enabled" json:"enabled"`
}

// Config is the webhooks section of the configuration file.
type Config struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Hooks          []HookConfig  `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay" json:"retry_delay"`
	AsyncQueueSize int           `yaml:"async_queue_size" json:"async_queue_size"`
}

// DefaultConfig returns the default webhook configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		AsyncQueueSize: 100,
	}
}

// Client sends webhook notifications.
type Client struct {
	config Config
	http   *http.Client
	log    *logging.Logger

	queue  chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	closed sync.Once
}

type job struct {
	event Event
	hook  HookConfig
}

// NewClient creates a webhook client and starts its background sender.
func NewClient(cfg Config, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Global()
	}
	if cfg.AsyncQueueSize <= 0 {
		cfg.AsyncQueueSize = DefaultConfig().AsyncQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		log:    log.Named("webhook"),
		queue:  make(chan *job, cfg.AsyncQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	if c.active() {
		c.once.Do(func() {
			c.wg.Add(1)
			go c.worker()
		})
	}
	return c
}

func (c *Client) active() bool {
	return c.config.Enabled && len(c.config.Hooks) > 0
}

func (c *Client) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			for {
				select {
				case j := <-c.queue:
					c.send(j)
				default:
					return
				}
			}
		case j := <-c.queue:
			c.send(j)
		}
	}
}

// Send delivers event to every matching hook. With async the event is
// queued and Send returns at once; otherwise the last delivery error is
// returned.
func (c *Client) Send(event Event, async bool) error {
	if !c.active() {
		return nil
	}

	var hooks []HookConfig
	for _, hook := range c.config.Hooks {
		if hook.Enabled && matchesEvent(hook, event.Event) {
			hooks = append(hooks, hook)
		}
	}
	if len(hooks) == 0 {
		return nil
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	if async {
		for _, hook := range hooks {
			select {
			case c.queue <- &job{event: event, hook: hook}:
			default:
				c.log.Warn("webhook queue full, dropping event", map[string]any{"event": string(event.Event), "url": hook.URL})
			}
		}
		return nil
	}

	var lastErr error
	for _, hook := range hooks {
		if err := c.sendSync(&job{event: event, hook: hook}); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Client) send(j *job) {
	if err := c.sendSync(j); err != nil {
		c.log.ErrorErr("webhook delivery failed", err, map[string]any{"event": string(j.event.Event), "url": j.hook.URL})
	}
}

// sendSync posts one job, retrying non-2xx answers and transport errors.
func (c *Client) sendSync(j *job) error {
	payload, err := json.Marshal(j.event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-c.ctx.Done():
				return lastErr
			case <-time.After(c.config.RetryDelay):
			}
		}

		lastErr = c.post(j.hook, j.event.Event, payload)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) post(hook HookConfig, event EventType, payload []byte) error {
	ctx := context.Background()
	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "runlog-webhook/1.0")
	req.Header.Set("X-Runlog-Event", string(event))
	if hook.Secret != "" {
		req.Header.Set("X-Runlog-Signature", Sign(payload, hook.Secret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
}

// Sign returns the X-Runlog-Signature value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func matchesEvent(hook HookConfig, event EventType) bool {
	for _, e := range hook.Events {
		if e == event || e == EventAll {
			return true
		}
	}
	return false
}

// Close delivers queued events and stops the sender. Retries are abandoned.
func (c *Client) Close() error {
	c.closed.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
	return nil
}

// ExecutionStarted queues an execution.started event.
func (c *Client) ExecutionStarted(id, script, user string) {
	c.Send(Event{Event: EventExecutionStarted, ExecutionID: id, Script: script, User: user}, true)
}

// ExecutionFinished queues an execution.finished event.
func (c *Client) ExecutionFinished(id, script, user string, exitCode int, transcriptPath string) {
	c.Send(Event{
		Event:       EventExecutionFinished,
		ExecutionID: id,
		Script:      script,
		User:        user,
		ExitCode:    &exitCode,
		Transcript:  transcriptPath,
	}, true)
}

// Archived queues a transcript.archived event.
func (c *Client) Archived(id, archivePath string) {
	c.Send(Event{
		Event:       EventArchived,
		ExecutionID: id,
		Metadata:    map[string]any{"archive": archivePath},
	}, true)
}

// GCComplete queues a gc.complete event.
func (c *Client) GCComplete(deleted, archived int) {
	c.Send(Event{
		Event:    EventGCComplete,
		Metadata: map[string]any{"deleted": deleted, "archived": archived},
	}, true)
}
