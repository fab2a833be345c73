// Package dispatcher implements the hot request path: resolve a Host header
// to a Deployment, classify the request (static asset vs. code), route code
// requests to the worker pool, and turn the isolate's streamed response into
// an HTTP response plus usage accounting.
package dispatcher

import (
	"context"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lagonhq/lagon-node/internal/analytics"
	"github.com/lagonhq/lagon-node/internal/artifact"
	"github.com/lagonhq/lagon-node/internal/deployment"
	"github.com/lagonhq/lagon-node/internal/isolate"
	"github.com/lagonhq/lagon-node/internal/metrics"
	"github.com/lagonhq/lagon-node/internal/registry"
)

const (
	canonical404 = `<html><head><title>404 Not Found</title></head><body><h1>404 Not Found</h1></body></html>`
	canonical403 = `<html><head><title>403 Forbidden</title></head><body><h1>403 Forbidden</h1></body></html>`
)

// Pool is the subset of internal/pool.Pool the dispatcher depends on.
type Pool interface {
	Send(ctx context.Context, deploymentID string, ev isolate.Event) error
}

// Dispatcher is an http.Handler that implements the per-request pipeline.
type Dispatcher struct {
	Registry   *registry.Registry
	Pool       Pool
	Store      *artifact.Store
	Analytics  *analytics.BatchInserter
	Region     string
	Log        *logrus.Entry
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Lagon-Id")

	host := hostOf(r)
	if host == "" {
		metrics.IgnoredRequests.WithLabelValues("No hostname").Inc()
		writeCanonical(w, http.StatusNotFound, canonical404)
		return
	}

	dep, ok := d.Registry.Lookup(host)
	if !ok {
		metrics.IgnoredRequests.WithLabelValues("No deployment").Inc()
		writeCanonical(w, http.StatusNotFound, canonical404)
		return
	}

	if dep.IsCron() {
		metrics.IgnoredRequests.WithLabelValues("Cron").Inc()
		writeCanonical(w, http.StatusForbidden, canonical403)
		return
	}

	cleanPath := path.Clean(r.URL.Path)

	if dep.HasAsset(cleanPath) {
		d.serveAsset(w, dep, cleanPath)
		return
	}

	if cleanPath == "/favicon.ico" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	d.serveCode(w, r, dep, requestID)
}

func hostOf(r *http.Request) string {
	if r.Host != "" {
		return r.Host
	}
	return r.URL.Host
}

func writeCanonical(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (d *Dispatcher) serveAsset(w http.ResponseWriter, dep *deployment.Deployment, assetPath string) {
	data, err := d.Store.Asset(dep.ID, assetPath)
	if err != nil {
		d.Log.WithError(err).WithField("deployment_id", dep.ID).Debug("asset read failed")
		d.recordError(dep, isolate.RunResult{Kind: isolate.RunResultError}, "Could not retrieve asset.")
		http.Error(w, "Could not retrieve asset.", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

func (d *Dispatcher) serveCode(w http.ResponseWriter, r *http.Request, dep *deployment.Deployment, requestID string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		d.recordError(dep, isolate.RunResult{Kind: isolate.RunResultError, Err: err}, "Could not read request body.")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	bytesIn := len(body)

	if requestID == "" {
		requestID = uuid.NewString()
	}

	reply := make(chan isolate.ResponseEvent, 1)
	req := isolate.IsolateRequest{
		RequestID: requestID,
		Method:    r.Method,
		URL:       r.URL.String(),
		Header:    r.Header,
		Body:      body,
		Reply:     reply,
	}

	if err := d.Pool.Send(r.Context(), dep.ID, isolate.RequestEvent{Request: req}); err != nil {
		d.Log.WithError(err).WithField("deployment_id", dep.ID).Warn("failed to enqueue request")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	select {
	case ev := <-reply:
		d.handleResponse(w, dep, bytesIn, ev)
	case <-r.Context().Done():
		return
	}
}

func (d *Dispatcher) handleResponse(w http.ResponseWriter, dep *deployment.Deployment, bytesIn int, ev isolate.ResponseEvent) {
	switch ev.Kind {
	case isolate.EventBytes:
		for k, vs := range ev.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		status := ev.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write(ev.Body)

		if d.Analytics != nil {
			d.Analytics.AddRequest(analytics.RequestRow{
				DeploymentID:  dep.ID,
				FunctionID:    dep.FunctionID,
				Region:        d.Region,
				StatusCode:    status,
				BytesIn:       bytesIn,
				BytesOut:      ev.BytesOut,
				CPUTimeMicros: ev.CPUTimeMicros,
				ReceivedAt:    time.Now(),
			})
		}

	case isolate.EventStreamDoneNoDataError, isolate.EventUnexpectedStreamResult, isolate.EventLimitsReached, isolate.EventError:
		message := d.recordError(dep, ev.Result, "")
		http.Error(w, message, http.StatusInternalServerError)
	}
}

// recordError classifies a RunResult into the deployment-scoped counters
// named in the metrics package and writes one LogRow. fallbackMessage is
// used when the RunResult carries no error (e.g. synthetic asset failures).
func (d *Dispatcher) recordError(dep *deployment.Deployment, result isolate.RunResult, fallbackMessage string) string {
	var level, message string

	switch result.Kind {
	case isolate.RunResultTimeout:
		metrics.IsolateTimeouts.WithLabelValues(dep.ID).Inc()
		level = "warn"
		message = "Function execution timed out"
	case isolate.RunResultMemoryLimit:
		metrics.IsolateMemoryLimits.WithLabelValues(dep.ID).Inc()
		level = "warn"
		message = "Function execution exceeded memory limit"
	case isolate.RunResultError:
		metrics.IsolateErrors.WithLabelValues(dep.ID).Inc()
		level = "error"
		if result.Err != nil {
			message = result.Err.Error()
		} else {
			message = fallbackMessage
		}
	default:
		level = "warn"
		message = "Unknown result"
	}

	if message == "" {
		message = fallbackMessage
	}

	if d.Analytics != nil {
		d.Analytics.AddLog(analytics.LogRow{
			DeploymentID: dep.ID,
			FunctionID:   dep.FunctionID,
			Level:        level,
			Message:      message,
			EmittedAt:    time.Now(),
		})
	}

	d.Log.WithFields(logrus.Fields{
		"deployment_id": dep.ID,
		"level":         level,
	}).Warn(message)

	return message
}
