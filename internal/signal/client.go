package signal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/hearth/internal/config"
)

// ErrClosed is returned by calls made after the subprocess exited.
var ErrClosed = errors.New("signal-cli subprocess exited")

type rpcResponse struct {
	Result json.RawMessage
	Error  *rpcError
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("signal-cli rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcRaw is one line from signal-cli: a response when ID is set, a
// notification when Method is.
type rpcRaw struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// Client talks to signal-cli running in jsonRpc mode over its stdio.
// Requests are correlated by ID; inbound data messages are pushed to
// the Messages channel.
type Client struct {
	command string
	args    []string
	logger  *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	nextID  atomic.Int64
	mu      sync.Mutex // guards pending and stdin writes
	pending map[int64]chan rpcResponse

	messages chan *Envelope
	done     chan struct{} // closed when readLoop exits
	waitErr  chan error
}

// NewClient prepares a client from the signal config. Start launches
// the subprocess.
func NewClient(cfg config.SignalConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		command:  cfg.Command,
		args:     daemonArgs(cfg),
		logger:   logger.With("component", "signal-cli"),
		pending:  make(map[int64]chan rpcResponse),
		messages: make(chan *Envelope, 64),
		done:     make(chan struct{}),
		waitErr:  make(chan error, 1),
	}
}

// daemonArgs returns the configured arguments, or the single-account
// jsonRpc invocation when none are set.
func daemonArgs(cfg config.SignalConfig) []string {
	if len(cfg.Args) > 0 {
		return cfg.Args
	}
	var args []string
	if cfg.Account != "" {
		args = append(args, "-a", cfg.Account)
	}
	return append(args, "jsonRpc", "--receive-mode=on-start")
}

// Start launches the subprocess. Call it once.
func (c *Client) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start signal-cli: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.reader = bufio.NewReaderSize(stdout, 1<<20)

	go c.drainStderr(stderr)
	go c.readLoop()
	go func() {
		err := cmd.Wait()
		if err != nil {
			c.logger.Error("signal-cli exited with error", "error", err)
		} else {
			c.logger.Info("signal-cli exited")
		}
		c.waitErr <- err
	}()

	c.logger.Info("signal-cli started", "command", c.command, "args", c.args, "pid", cmd.Process.Pid)
	return nil
}

// Messages delivers inbound data messages. It is closed when the
// subprocess exits.
func (c *Client) Messages() <-chan *Envelope {
	return c.messages
}

// Send delivers text to one recipient and returns the server timestamp.
func (c *Client) Send(ctx context.Context, recipient, message string) (int64, error) {
	raw, err := c.call(ctx, "send", map[string]any{
		"recipient": []string{recipient},
		"message":   message,
	})
	if err != nil {
		return 0, fmt.Errorf("signal send: %w", err)
	}
	var result sendResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("decode send result: %w", err)
	}
	return result.Timestamp, nil
}

// SendReceipt marks the message at timestamp as read.
func (c *Client) SendReceipt(ctx context.Context, recipient string, timestamp int64) error {
	if _, err := c.call(ctx, "sendReceipt", map[string]any{
		"recipient":       recipient,
		"targetTimestamp": timestamp,
		"type":            "read",
	}); err != nil {
		return fmt.Errorf("signal sendReceipt: %w", err)
	}
	return nil
}

// SendTyping starts or stops the typing indicator.
func (c *Client) SendTyping(ctx context.Context, recipient string, stop bool) error {
	params := map[string]any{"recipient": recipient}
	if stop {
		params["stop"] = true
	}
	if _, err := c.call(ctx, "sendTyping", params); err != nil {
		return fmt.Errorf("signal sendTyping: %w", err)
	}
	return nil
}

// Ping asks signal-cli for its version.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "version", nil)
	return err
}

// Close closes stdin so signal-cli exits, killing it after five
// seconds if it does not.
func (c *Client) Close() error {
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	if c.stdin != nil {
		c.stdin.Close()
	}
	select {
	case err := <-c.waitErr:
		return err
	case <-time.After(5 * time.Second):
		c.logger.Warn("signal-cli did not exit, killing", "pid", c.cmd.Process.Pid)
		_ = c.cmd.Process.Kill()
		<-c.waitErr
		return nil
	}
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write to signal-cli: %w", err)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.messages)

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				c.logger.Error("signal-cli read error", "error", err)
			}
			c.failPending()
			return
		}
		c.handleLine(line)
	}
}

// failPending answers every outstanding call with an error.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcResponse{Error: &rpcError{Code: -1, Message: "subprocess exited"}}
		delete(c.pending, id)
	}
}

func (c *Client) handleLine(line []byte) {
	var raw rpcRaw
	if err := json.Unmarshal(line, &raw); err != nil {
		c.logger.Debug("signal-cli non-JSON line", "line", string(line))
		return
	}

	if raw.ID != nil {
		c.mu.Lock()
		ch, ok := c.pending[*raw.ID]
		delete(c.pending, *raw.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("signal-cli response for unknown id", "id", *raw.ID)
			return
		}
		ch <- rpcResponse{Result: raw.Result, Error: raw.Error}
		return
	}

	if raw.Method != "receive" {
		c.logger.Debug("signal-cli notification ignored", "method", raw.Method)
		return
	}

	var notif receiveNotification
	if err := json.Unmarshal(raw.Params, &notif); err != nil {
		c.logger.Warn("signal-cli malformed receive notification", "error", err)
		return
	}
	// Typing, receipts and sync events are not actionable.
	if notif.Envelope.DataMessage == nil {
		return
	}
	select {
	case c.messages <- &notif.Envelope:
	default:
		c.logger.Warn("signal message channel full, dropping message", "sender", notif.Envelope.Source)
	}
}

func (c *Client) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		c.logger.Debug("signal-cli stderr", "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("signal-cli stderr scan error", "error", err)
	}
}
