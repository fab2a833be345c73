package isolate

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/dop251/goja"
)

var (
	errTickTimeout  = fmt.Errorf("tick timeout exceeded")
	errTotalTimeout = fmt.Errorf("total timeout exceeded")
	errMemoryLimit  = fmt.Errorf("memory limit exceeded")
)

// gojaIsolate is a reference Isolate implementation backed by a single
// goja.Runtime, constructed once per worker and reused across the
// deployment's requests. It is grounded in the devpack-style executor
// pattern of wrapping the deployment source, attaching a console shim and
// driving cancellation through vm.Interrupt from a watchdog goroutine.
type gojaIsolate struct {
	opts    Options
	vm      *goja.Runtime
	handler goja.Callable

	mu sync.Mutex
}

// NewGoja is the Factory for the goja-backed reference Isolate.
func NewGoja(opts Options) Isolate {
	return &gojaIsolate{opts: opts}
}

const consoleShim = `
var __logs = [];
var console = {
	log:   function() { __logs.push(Array.prototype.slice.call(arguments).join(" ")); },
	info:  function() { __logs.push(Array.prototype.slice.call(arguments).join(" ")); },
	warn:  function() { __logs.push(Array.prototype.slice.call(arguments).join(" ")); },
	error: function() { __logs.push(Array.prototype.slice.call(arguments).join(" ")); },
};
`

func (g *gojaIsolate) Evaluate(ctx context.Context) error {
	vm := goja.New()

	if _, err := vm.RunString(consoleShim); err != nil {
		return fmt.Errorf("load console shim: %w", err)
	}

	env := vm.NewObject()
	for k, v := range g.opts.Env {
		_ = env.Set(k, v)
	}
	if err := vm.Set("env", env); err != nil {
		return fmt.Errorf("set env: %w", err)
	}

	if _, err := vm.RunString(string(g.opts.EntryScript)); err != nil {
		return fmt.Errorf("evaluate entry script: %w", err)
	}

	handler, ok := goja.AssertFunction(vm.Get("handleRequest"))
	if !ok {
		return fmt.Errorf("deployment %s: handleRequest is not a function", g.opts.DeploymentID)
	}

	g.vm = vm
	g.handler = handler
	return nil
}

// RunEventLoop serves events until a TerminateEvent is received or a
// request fails, either by breaching memory/tick/total limits or by a
// script error, at which point the isolate self-terminates: the failing
// request's ResponseEvent is delivered and the loop returns, ending the
// worker.
func (g *gojaIsolate) RunEventLoop(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch e := ev.(type) {
			case TerminateEvent:
				return nil
			case RequestEvent:
				if breached := g.serve(ctx, e.Request); breached {
					return fmt.Errorf("deployment %s: isolate self-terminated", g.opts.DeploymentID)
				}
			}
		}
	}
}

// serve executes a single request and reports whether it failed (a
// resource-limit breach or a script error), in which case the isolate must
// self-terminate.
func (g *gojaIsolate) serve(ctx context.Context, req IsolateRequest) bool {
	tickTimeout := g.opts.TickTimeout
	totalTimeout := g.opts.TotalTimeout
	if tickTimeout <= 0 {
		tickTimeout = totalTimeout
	}
	deadline := totalTimeout
	if tickTimeout > 0 && tickTimeout < deadline {
		deadline = tickTimeout
	}
	if deadline <= 0 {
		deadline = 30 * time.Second
	}

	var heapBaseline runtime.MemStats
	runtime.ReadMemStats(&heapBaseline)

	done := make(chan struct{})
	var interruptReason error
	var watchdogMu sync.Mutex

	watchdogCtx, cancelWatchdog := context.WithCancel(ctx)
	defer cancelWatchdog()

	go func() {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-watchdogCtx.Done():
				return
			case <-timer.C:
				watchdogMu.Lock()
				interruptReason = errTotalTimeout
				watchdogMu.Unlock()
				g.vm.Interrupt(errTotalTimeout)
				return
			case <-ticker.C:
				if g.opts.Memory <= 0 {
					continue
				}
				var cur runtime.MemStats
				runtime.ReadMemStats(&cur)
				delta := int64(cur.HeapAlloc) - int64(heapBaseline.HeapAlloc)
				if delta > g.opts.Memory {
					watchdogMu.Lock()
					interruptReason = errMemoryLimit
					watchdogMu.Unlock()
					g.vm.Interrupt(errMemoryLimit)
					return
				}
			}
		}
	}()

	started := time.Now()
	result, callErr := g.callHandler(req)
	close(done)
	cpuTimeMicros := time.Since(started).Microseconds()

	g.drainLogs()

	watchdogMu.Lock()
	reason := interruptReason
	watchdogMu.Unlock()

	if callErr != nil {
		var kind RunResultKind
		switch reason {
		case errTotalTimeout, errTickTimeout:
			kind = RunResultTimeout
		case errMemoryLimit:
			kind = RunResultMemoryLimit
		default:
			kind = RunResultError
		}
		req.Reply <- ResponseEvent{
			Kind:   eventKindFor(kind),
			Result: RunResult{Kind: kind, Err: callErr},
		}
		return true
	}

	if g.opts.OnStatistics != nil {
		var cur runtime.MemStats
		runtime.ReadMemStats(&cur)
		g.opts.OnStatistics(cpuTimeMicros, int64(cur.HeapAlloc)-int64(heapBaseline.HeapAlloc))
	}

	req.Reply <- ResponseEvent{
		Kind:          EventBytes,
		StatusCode:    result.status,
		Header:        result.header,
		Body:          result.body,
		BytesOut:      len(result.body),
		CPUTimeMicros: cpuTimeMicros,
	}
	return false
}

// drainLogs reads and clears the JS-side __logs buffer accumulated during
// the last handler call, forwarding each line to OnLog.
func (g *gojaIsolate) drainLogs() {
	if g.opts.OnLog == nil {
		return
	}
	val := g.vm.Get("__logs")
	if val == nil {
		return
	}
	lines, ok := val.Export().([]interface{})
	if !ok {
		return
	}
	for _, l := range lines {
		if s, ok := l.(string); ok {
			g.opts.OnLog("info", s)
		}
	}
	if len(lines) > 0 {
		_ = g.vm.Set("__logs", g.vm.NewArray())
	}
}

func eventKindFor(kind RunResultKind) ResponseEventKind {
	switch kind {
	case RunResultTimeout:
		return EventLimitsReached
	case RunResultMemoryLimit:
		return EventLimitsReached
	default:
		return EventError
	}
}

type handlerResult struct {
	status int
	header http.Header
	body   []byte
}

func (g *gojaIsolate) callHandler(req IsolateRequest) (handlerResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	vm := g.vm
	jsReq := vm.NewObject()
	_ = jsReq.Set("method", req.Method)
	_ = jsReq.Set("url", req.URL)
	_ = jsReq.Set("body", string(req.Body))
	headers := vm.NewObject()
	for k := range req.Header {
		_ = headers.Set(k, req.Header.Get(k))
	}
	_ = jsReq.Set("headers", headers)

	val, err := g.handler(goja.Undefined(), jsReq)
	if err != nil {
		return handlerResult{}, err
	}

	return exportResponse(vm, val), nil
}

func exportResponse(vm *goja.Runtime, val goja.Value) handlerResult {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return handlerResult{status: http.StatusOK, header: http.Header{}}
	}

	switch exported := val.Export().(type) {
	case string:
		return handlerResult{status: http.StatusOK, header: http.Header{}, body: []byte(exported)}
	case map[string]any:
		out := handlerResult{status: http.StatusOK, header: http.Header{}}
		if status, ok := exported["status"]; ok {
			if n, ok := toInt(status); ok {
				out.status = n
			}
		}
		if body, ok := exported["body"]; ok {
			if s, ok := body.(string); ok {
				out.body = []byte(s)
			}
		}
		if hdrs, ok := exported["headers"].(map[string]any); ok {
			for k, v := range hdrs {
				if s, ok := v.(string); ok {
					out.header.Set(k, s)
				}
			}
		}
		return out
	default:
		return handlerResult{status: http.StatusOK, header: http.Header{}}
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
