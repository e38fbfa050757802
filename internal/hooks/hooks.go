package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"

	"spa-cms/internal/config"
	"spa-cms/internal/logger"
)

const EventRecordSaved = "record.saved"

// Payload is the JSON body posted to every matching hook.
type Payload struct {
	Event          string         `json:"event"`
	Kind           string         `json:"kind"`
	Action         string         `json:"action"`
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	Record         map[string]any `json:"record"`
	Timestamp      string         `json:"timestamp"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// Result is the outcome of one HTTP delivery attempt.
type Result struct {
	StatusCode   int
	ResponseBody string
	Error        string
}

func (r Result) ok() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

type hook struct {
	config.HookConfig
	condition *vm.Program
}

// Dispatcher posts record.saved events to the configured hook URLs.
// Deliveries run in the background and are retried with exponential backoff.
type Dispatcher struct {
	hooks   []hook
	client  *http.Client
	backoff time.Duration
	now     func() time.Time
	log     *logger.Logger
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher compiles the hook conditions. A hook with an invalid
// condition is an error at startup rather than at delivery.
func NewDispatcher(cfgs []config.HookConfig, log *logger.Logger) (*Dispatcher, error) {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		ctx:     ctx,
		cancel:  cancel,
		client:  &http.Client{Timeout: 30 * time.Second},
		backoff: 30 * time.Second,
		now:     time.Now,
		log:     log.With("component", "hooks"),
	}
	for _, c := range cfgs {
		if c.URL == "" {
			cancel()
			return nil, fmt.Errorf("hook %q: url is required", c.Name)
		}
		if c.MaxAttempts <= 0 {
			c.MaxAttempts = 3
		}
		h := hook{HookConfig: c}
		if c.Condition != "" {
			prog, err := expr.Compile(c.Condition, expr.AsBool())
			if err != nil {
				cancel()
				return nil, fmt.Errorf("hook %q: compile condition: %w", c.Name, err)
			}
			h.condition = prog
		}
		d.hooks = append(d.hooks, h)
	}
	return d, nil
}

func (d *Dispatcher) Len() int { return len(d.hooks) }

// RecordSaved fires every hook that matches kind and whose condition holds.
func (d *Dispatcher) RecordSaved(kind, id string, created bool, record map[string]any) {
	if len(d.hooks) == 0 || d.ctx.Err() != nil {
		return
	}
	action := "update"
	if created {
		action = "create"
	}
	status, _ := record["status"].(string)
	payload := Payload{
		Event:          EventRecordSaved,
		Kind:           kind,
		Action:         action,
		ID:             id,
		Status:         status,
		Record:         record,
		Timestamp:      d.now().UTC().Format(time.RFC3339),
		IdempotencyKey: "rh_" + uuid.New().String(),
	}
	env := map[string]any{"kind": kind, "action": action, "status": status, "record": record}

	for _, h := range d.hooks {
		if !h.matches(kind) {
			continue
		}
		if ok, err := h.evaluate(env); err != nil {
			d.log.Error("hook condition failed", "hook", h.Name, "error", err)
			continue
		} else if !ok {
			continue
		}
		body, err := json.Marshal(payload)
		if err != nil {
			d.log.Error("marshal hook payload", "hook", h.Name, "error", err)
			return
		}
		d.wg.Add(1)
		go func(h hook) {
			defer d.wg.Done()
			d.deliver(d.ctx, h, body, payload.IdempotencyKey)
		}(h)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Stop abandons pending retries, aborts in-flight requests and waits for the
// delivery goroutines to return. Events fired after Stop are dropped.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, h hook, body []byte, key string) {
	headers := ResolveHeaders(h.Headers)
	headers["X-Idempotency-Key"] = key
	method := h.Method
	if method == "" {
		method = http.MethodPost
	}

	for attempt := 1; ; attempt++ {
		res := Dispatch(ctx, d.client, h.URL, method, headers, body)
		if ctx.Err() != nil {
			d.log.Warn("hook delivery abandoned", "hook", h.Name, "attempt", attempt)
			return
		}
		if res.ok() {
			d.log.Info("hook delivered", "hook", h.Name, "status", res.StatusCode, "attempt", attempt)
			return
		}
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", res.StatusCode)
		}
		if attempt >= h.MaxAttempts {
			d.log.Error("hook delivery exhausted", "hook", h.Name, "attempt", attempt, "error", msg)
			return
		}
		wait := d.backoff << (attempt - 1)
		d.log.Warn("hook delivery failed, retrying", "hook", h.Name, "attempt", attempt, "error", msg, "retry_in", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.log.Warn("hook delivery abandoned", "hook", h.Name, "attempt", attempt)
			return
		case <-timer.C:
		}
	}
}

func (h hook) matches(kind string) bool {
	if len(h.Kinds) == 0 {
		return true
	}
	for _, k := range h.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (h hook) evaluate(env map[string]any) (bool, error) {
	if h.condition == nil {
		return true, nil
	}
	out, err := expr.Run(h.condition, env)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

var envVarPattern = regexp.MustCompile(`\{\{env\.(\w+)\}\}`)

// ResolveHeaders replaces {{env.NAME}} in header values with the
// environment variable. Unset variables resolve to an empty string.
func ResolveHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = envVarPattern.ReplaceAllStringFunc(v, func(m string) string {
			return os.Getenv(envVarPattern.FindStringSubmatch(m)[1])
		})
	}
	return out
}

// Dispatch sends one HTTP request. Transport errors are reported in the
// result rather than returned.
func Dispatch(ctx context.Context, client *http.Client, url, method string, headers map[string]string, body []byte) Result {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Error: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return Result{StatusCode: resp.StatusCode, ResponseBody: string(respBody)}
}
