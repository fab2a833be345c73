package isolate

import (
	"context"
	"net/http"
	"testing"
	"time"
)

const echoScript = `
function handleRequest(req) {
	console.log("handling", req.method, req.url);
	return { status: 201, body: "echo:" + req.body, headers: { "X-Echo": "1" } };
}
`

func TestEvaluateAndServeSuccess(t *testing.T) {
	var logged []string
	iso := NewGoja(Options{
		DeploymentID: "d1",
		EntryScript:  []byte(echoScript),
		TotalTimeout: time.Second,
		OnLog:        func(level, msg string) { logged = append(logged, msg) },
	})

	if err := iso.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	events := make(chan Event, 2)
	reply := make(chan ResponseEvent, 1)
	events <- RequestEvent{Request: IsolateRequest{
		Method: http.MethodPost,
		URL:    "/hello",
		Header: http.Header{},
		Body:   []byte("hi"),
		Reply:  reply,
	}}
	events <- TerminateEvent{Reason: "test done"}
	close(events)

	if err := iso.RunEventLoop(context.Background(), events); err != nil {
		t.Fatalf("RunEventLoop: %v", err)
	}

	select {
	case resp := <-reply:
		if resp.Kind != EventBytes {
			t.Fatalf("expected EventBytes, got %v (result=%+v)", resp.Kind, resp.Result)
		}
		if resp.StatusCode != 201 {
			t.Fatalf("expected status 201, got %d", resp.StatusCode)
		}
		if string(resp.Body) != "echo:hi" {
			t.Fatalf("expected echo:hi, got %q", resp.Body)
		}
		if resp.Header.Get("X-Echo") != "1" {
			t.Fatalf("expected X-Echo header, got %v", resp.Header)
		}
	default:
		t.Fatal("expected a reply on the channel")
	}

	if len(logged) == 0 {
		t.Fatal("expected console.log output to be forwarded via OnLog")
	}
}

func TestEvaluateMissingHandlerErrors(t *testing.T) {
	iso := NewGoja(Options{
		DeploymentID: "d1",
		EntryScript:  []byte("var x = 1;"),
	})
	if err := iso.Evaluate(context.Background()); err == nil {
		t.Fatal("expected error when handleRequest is not defined")
	}
}

func TestEvaluateSyntaxErrorFails(t *testing.T) {
	iso := NewGoja(Options{
		DeploymentID: "d1",
		EntryScript:  []byte("function( {{{"),
	})
	if err := iso.Evaluate(context.Background()); err == nil {
		t.Fatal("expected error evaluating invalid script")
	}
}

const infiniteLoopScript = `
function handleRequest(req) {
	while (true) {}
}
`

func TestRequestBreachingTotalTimeoutSelfTerminates(t *testing.T) {
	iso := NewGoja(Options{
		DeploymentID: "d1",
		EntryScript:  []byte(infiniteLoopScript),
		TotalTimeout: 50 * time.Millisecond,
	})
	if err := iso.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	events := make(chan Event, 1)
	reply := make(chan ResponseEvent, 1)
	events <- RequestEvent{Request: IsolateRequest{
		Method: http.MethodGet,
		URL:    "/",
		Header: http.Header{},
		Reply:  reply,
	}}

	errCh := make(chan error, 1)
	go func() { errCh <- iso.RunEventLoop(context.Background(), events) }()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected the event loop to report self-termination")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for isolate to self-terminate")
	}

	select {
	case resp := <-reply:
		if resp.Kind != EventLimitsReached {
			t.Fatalf("expected EventLimitsReached, got %v", resp.Kind)
		}
		if resp.Result.Kind != RunResultTimeout {
			t.Fatalf("expected RunResultTimeout, got %v", resp.Result.Kind)
		}
	default:
		t.Fatal("expected a limit-breach reply")
	}
}

func TestRunEventLoopStopsOnTerminate(t *testing.T) {
	iso := NewGoja(Options{
		DeploymentID: "d1",
		EntryScript:  []byte(echoScript),
	})
	if err := iso.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	events := make(chan Event, 1)
	events <- TerminateEvent{Reason: "shutdown"}

	if err := iso.RunEventLoop(context.Background(), events); err != nil {
		t.Fatalf("expected clean return on TerminateEvent, got %v", err)
	}
}
