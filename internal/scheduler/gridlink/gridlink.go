// Package gridlink is the remote implementation of the scheduler boundary.
// It speaks socket.io to a scheduler gateway: task descriptions go out as
// submit events, terminal statuses come back as done events and are buffered
// until the engine polls for them.
package gridlink

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/vk/gridfan/internal/ctxlog"
	"github.com/vk/gridfan/internal/scheduler"
	"github.com/vk/gridfan/internal/task"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Gateway event names.
const (
	eventSubmit = "task:submit"
	eventDone   = "task:done"
)

// defaultConnectTimeout bounds the initial websocket handshake.
const defaultConnectTimeout = 10 * time.Second

// Options configures the gateway connection.
type Options struct {
	// Namespace is the socket.io namespace to join; empty means the root
	// namespace.
	Namespace string

	// ConnectTimeout overrides defaultConnectTimeout when positive.
	ConnectTimeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// Client is a scheduler.Scheduler backed by a socket.io gateway connection.
type Client struct {
	io      *socket.Socket
	manager *socket.Manager

	mu      sync.Mutex
	results map[scheduler.Handle]*scheduler.Result
}

// Dial connects to the gateway and installs the terminal-status listener.
func Dial(ctx context.Context, gatewayURL string, opts Options) (*Client, error) {
	logger := ctxlog.FromContext(ctx).With("gateway", gatewayURL)

	parsedURL, err := url.Parse(gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("parsing gateway URL: %w", err)
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	sockOpts := socket.DefaultOptions()
	sockOpts.SetPath(parsedURL.Path)
	sockOpts.SetTransports(types.NewSet(transports.WebSocket))
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		sockOpts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	manager := socket.NewManager(baseURL, sockOpts)
	io := manager.Socket(opts.Namespace, sockOpts)

	client := &Client{
		io:      io,
		manager: manager,
		results: make(map[scheduler.Handle]*scheduler.Result),
	}

	// The transport keeps firing connect/connect_error through later
	// reconnect cycles; only the first outcome belongs to this dial, the rest
	// are dropped so the callbacks never block on the handshake channel.
	connected := make(chan error, 1)
	settle := settleOnce(connected)
	io.On(types.EventName("connect"), func(...any) {
		logger.Info("Connected to scheduler gateway.", "sid", io.Id())
		settle(nil)
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		if len(errs) > 0 {
			if err, ok := errs[0].(error); ok {
				settle(err)
				return
			}
		}
		settle(fmt.Errorf("connect_error"))
	})
	io.On(types.EventName(eventDone), func(data ...any) {
		client.recordDone(logger, data...)
	})

	io.Connect()

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-connectCtx.Done():
		io.Disconnect()
		return nil, &scheduler.ExternalSchedulerError{Op: "dial", Err: fmt.Errorf("timed out connecting to %s", gatewayURL)}
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, &scheduler.ExternalSchedulerError{Op: "dial", Err: err}
		}
	}
	return client, nil
}

// Submit emits the task description to the gateway. The attempt id doubles
// as the handle the gateway echoes back in its done event.
func (c *Client) Submit(ctx context.Context, spec *task.Spec) (scheduler.Handle, error) {
	bindings := make([]map[string]string, 0, len(spec.Bindings))
	for _, b := range spec.Bindings {
		bindings = append(bindings, map[string]string{
			"host":      b.Host,
			"container": b.Container,
			"mode":      string(b.Mode),
		})
	}

	payload := map[string]any{
		"unit":         spec.Unit,
		"attempt":      spec.Attempt,
		"image":        spec.Image,
		"argv":         spec.Argv,
		"bindings":     bindings,
		"inputs":       spec.Inputs,
		"outputs":      spec.Outputs,
		"memory_bytes": spec.MemoryBytes,
		"output_dir":   spec.OutputDir,
	}

	ctxlog.FromContext(ctx).Debug("Submitting task to gateway.", "unit", spec.Unit, "attempt", spec.Attempt)
	if err := c.io.Emit(eventSubmit, payload); err != nil {
		return "", &scheduler.ExternalSchedulerError{Unit: spec.Unit, Op: "submit", Err: err}
	}
	return scheduler.Handle(spec.Attempt), nil
}

// Poll returns the buffered terminal result for a handle, or ErrPending.
func (c *Client) Poll(_ context.Context, handle scheduler.Handle) (*scheduler.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result, ok := c.results[handle]; ok {
		return result, nil
	}
	return nil, scheduler.ErrPending
}

// Close disconnects from the gateway.
func (c *Client) Close() {
	c.io.Disconnect()
}

// settleOnce returns a send function delivering only the first outcome to ch;
// later calls are no-ops.
func settleOnce(ch chan<- error) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() { ch <- err })
	}
}

// recordDone decodes one done event into a Result. Malformed events are
// logged and dropped; the unit stays pending and is reported by the engine's
// own timeout/cancellation path rather than being guessed at.
func (c *Client) recordDone(logger interface{ Warn(string, ...any) }, data ...any) {
	if len(data) == 0 {
		logger.Warn("Gateway done event carried no payload.")
		return
	}
	payload, ok := data[0].(map[string]any)
	if !ok {
		logger.Warn("Gateway done event payload has unexpected shape.")
		return
	}

	attempt, _ := payload["attempt"].(string)
	unit, _ := payload["unit"].(string)
	outputDir, _ := payload["output_dir"].(string)
	if attempt == "" || unit == "" {
		logger.Warn("Gateway done event missing identifiers.", "payload", payload)
		return
	}

	exitCode := 0
	// socket.io decodes JSON numbers as float64.
	if f, ok := payload["exit_code"].(float64); ok {
		exitCode = int(f)
	}

	result := &scheduler.Result{
		Handle:    scheduler.Handle(attempt),
		Unit:      unit,
		Attempt:   attempt,
		ExitCode:  exitCode,
		OutputDir: outputDir,
	}

	c.mu.Lock()
	c.results[result.Handle] = result
	c.mu.Unlock()
}
