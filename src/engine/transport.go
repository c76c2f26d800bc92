package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

// ErrRemoteUnavailable marks every failure mode of Invoke where the caller
// must not assume the worker executed the action: dead process, closed or
// wedged channel, reply timeout.
var ErrRemoteUnavailable = errors.New("engine worker unavailable")

// Client owns the lifecycle of exactly one worker process and the control
// channel to it: synchronous Invoke round-trips, best-effort Send
// notifications and the inbound push-event stream.
type Client struct {
	projectID string
	name      string
	cfg       *Config

	controlURL string
	cmd        *exec.Cmd

	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Frame

	handlersMu sync.RWMutex
	handlers   map[EventType]EventHandler

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewClient builds a client that spawns and supervises its own worker
// process on Start.
func NewClient(projectID, name string, cfg *Config) *Client {
	return &Client{
		projectID: projectID,
		name:      name,
		cfg:       cfg,
		pending:   make(map[string]chan Frame),
		handlers:  make(map[EventType]EventHandler),
		stopped:   make(chan struct{}),
	}
}

// NewChannelClient builds a client bound to an already-listening control
// endpoint, without owning a process. Used by tests and by re-attachment
// to workers that outlived a manager restart.
func NewChannelClient(projectID, name, controlURL string, cfg *Config) *Client {
	c := NewClient(projectID, name, cfg)
	c.controlURL = controlURL
	return c
}

// Start spawns the worker (unless attached to an existing endpoint),
// dials the control channel and blocks until the worker is reachable or
// the dial timeout expires. Failures surface to the caller; there is no
// internal retry beyond the dial window.
func (c *Client) Start(ctx context.Context, projectConf map[string]any) error {
	if c.controlURL == "" {
		port, err := freePort()
		if err != nil {
			return fmt.Errorf("reserve control port: %w", err)
		}
		cmd, err := spawnWorker(c.cfg, c.projectID, c.name, port, projectConf)
		if err != nil {
			return err
		}
		c.cmd = cmd
		c.controlURL = fmt.Sprintf("ws://127.0.0.1:%d/control", port)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.killProcess()
		return fmt.Errorf("control channel dial: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	header := http.Header{}
	header.Set("X-Engine-Project", c.projectID)

	deadline := time.Now().Add(c.cfg.DialTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, _, err := dialer.DialContext(ctx, c.controlURL, header)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if c.cmd != nil && !processAlive(c.cmd.Process.Pid) {
			return nil, fmt.Errorf("worker died before becoming reachable: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil, lastErr
}

// RegisterHandler associates a handler with an event type. At most one
// handler per type; a later registration replaces the former.
func (c *Client) RegisterHandler(event EventType, fn EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = fn
}

// Invoke performs one request/reply round-trip on the control channel.
// Callers must not assume the worker executed the action when the error
// wraps ErrRemoteUnavailable.
func (c *Client) Invoke(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	select {
	case <-c.stopped:
		return nil, fmt.Errorf("%w: client stopped", ErrRemoteUnavailable)
	default:
	}
	if c.cmd != nil && !c.Alive() {
		return nil, fmt.Errorf("%w: process not running", ErrRemoteUnavailable)
	}

	id := uuid.NewString()
	reply := make(chan Frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(Frame{ID: id, Action: action, Params: params}); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrRemoteUnavailable, action, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.InvokeTimeout)
	defer cancel()

	select {
	case f, ok := <-reply:
		if !ok {
			// Channel dropped mid-request: the worker may or may not
			// have executed the action.
			return nil, fmt.Errorf("%w: %s: control channel closed", ErrRemoteUnavailable, action)
		}
		if f.Error != "" {
			return nil, fmt.Errorf("worker rejected %s: %s", action, f.Error)
		}
		return f.Data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, action, ctx.Err())
	case <-c.stopped:
		return nil, fmt.Errorf("%w: client stopped", ErrRemoteUnavailable)
	}
}

// Send fires an advisory notification at the worker. Failures are logged,
// never raised: these messages are hints, not commands.
func (c *Client) Send(action string, params map[string]any) {
	if err := c.write(Frame{Action: action, Params: params}); err != nil {
		logger.WithFields(map[string]interface{}{
			"project_id": c.projectID,
			"action":     action,
		}).WithError(err).Warn("advisory send failed")
	}
}

func (c *Client) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errors.New("control channel not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(f)
}

// readLoop pumps inbound frames: replies are matched to pending invokes by
// correlation id, push events go to their registered handler. One bad
// frame never stops the pump.
func (c *Client) readLoop() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopped:
			default:
				logger.WithField("project_id", c.projectID).WithError(err).Warn("control channel closed")
			}
			c.failPending()
			return
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			logger.WithField("project_id", c.projectID).WithError(err).Warn("discarding malformed frame")
			continue
		}

		if f.ID != "" {
			c.pendingMu.Lock()
			reply, ok := c.pending[f.ID]
			c.pendingMu.Unlock()
			if ok {
				reply <- f
			}
			continue
		}

		if f.Event == "" {
			continue
		}
		c.handlersMu.RLock()
		handler, ok := c.handlers[f.Event]
		c.handlersMu.RUnlock()
		if !ok {
			logger.WithFields(map[string]interface{}{
				"project_id": c.projectID,
				"event":      f.Event,
			}).Debug("no handler registered for event")
			continue
		}
		c.dispatch(f.Event, handler, f.Data)
	}
}

func (c *Client) dispatch(event EventType, handler EventHandler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"project_id": c.projectID,
				"event":      event,
			}).Errorf("event handler panicked: %v", r)
		}
	}()
	handler(data)
}

// failPending closes every in-flight reply channel so waiting invokes
// fail with ErrRemoteUnavailable rather than a fake worker rejection.
// Only the read pump sends on or closes these channels, so a close here
// cannot race a reply send.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
}

// Alive reflects OS-level process liveness, independent of channel health.
// Channel-only clients report whether the channel is still up.
func (c *Client) Alive() bool {
	if c.cmd != nil {
		return processAlive(c.cmd.Process.Pid)
	}
	select {
	case <-c.stopped:
		return false
	default:
		return c.conn != nil
	}
}

// Pid returns the worker's OS pid, or 0 for channel-only clients.
func (c *Client) Pid() int {
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Stop requests graceful shutdown and force-terminates the process group
// after the grace period. Safe to call twice.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "manager stop"),
				time.Now().Add(time.Second))
			_ = c.conn.Close()
		}
		c.writeMu.Unlock()
		if c.cmd != nil {
			stopProcessGroup(c.cmd.Process.Pid, c.cfg.StopGrace)
		}
		logger.WithField("project_id", c.projectID).Info("engine client stopped")
	})
}

func (c *Client) killProcess() {
	if c.cmd != nil && c.cmd.Process != nil {
		stopProcessGroup(c.cmd.Process.Pid, 0)
	}
}
