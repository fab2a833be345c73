// Package reactor implements the Lifecycle Reactor: the sole writer to the
// registry, artifact store, cron scheduler and worker-pool lifecycle,
// driven by a stream of control-plane messages.
package reactor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lagonhq/lagon-node/internal/artifact"
	"github.com/lagonhq/lagon-node/internal/controlplane"
	"github.com/lagonhq/lagon-node/internal/cronreg"
	"github.com/lagonhq/lagon-node/internal/deployment"
	"github.com/lagonhq/lagon-node/internal/metrics"
	"github.com/lagonhq/lagon-node/internal/registry"
)

// Terminator is the subset of internal/pool.Pool the reactor needs to
// terminate workers on undeploy/promote.
type Terminator interface {
	Terminate(deploymentID, reason string)
}

// Cronner registers and deregisters a deployment's scheduled execution.
type Cronner interface {
	Register(deploymentID, expr string, job cronreg.Job) error
	Deregister(deploymentID string)
}

// Reactor consumes a controlplane.Listener's message stream and applies
// Deploy/Undeploy/Promote/Unknown semantics. It restarts its consume loop
// after a backoff on stream failure.
type Reactor struct {
	Registry   *registry.Registry
	Store      *artifact.Store
	Downloader artifact.Downloader
	Pool       Terminator
	Cron       Cronner
	OnCron     func(deploymentID string)

	Region string
	Log    *logrus.Entry

	RootDomain string

	RestartBackoff time.Duration
}

// Run drives the reactor until ctx is done, restarting Listen after a
// backoff whenever the listener's channel closes or Listen itself errors.
func (r *Reactor) Run(ctx context.Context, listener controlplane.Listener) {
	backoff := r.RestartBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := listener.Listen(ctx)
		if err != nil {
			r.Log.WithError(err).Warn("control-plane listen failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				continue
			}
		}

		for msg := range msgs {
			r.handle(ctx, msg)
		}

		select {
		case <-ctx.Done():
			return
		default:
			r.Log.Warn("control-plane stream ended, restarting")
			time.Sleep(backoff)
		}
	}
}

func (r *Reactor) handle(ctx context.Context, msg controlplane.Message) {
	if msg.Cron != "" && msg.CronRegion != r.Region && msg.Kind != controlplane.KindUndeploy {
		return
	}

	switch msg.Kind {
	case controlplane.KindDeploy:
		r.handleDeploy(ctx, msg)
	case controlplane.KindUndeploy:
		r.handleUndeploy(msg)
	case controlplane.KindPromote:
		r.handlePromote(ctx, msg)
	default:
		r.Log.WithField("kind", msg.Kind).Warn("ignoring unknown control-plane message")
	}
}

func toDeployment(msg controlplane.Message) *deployment.Deployment {
	return &deployment.Deployment{
		ID:                   msg.DeploymentID,
		FunctionID:           msg.FunctionID,
		FunctionName:         msg.FunctionName,
		Assets:               msg.Assets,
		Domains:              msg.Domains,
		EnvironmentVariables: msg.EnvironmentVariables,
		Memory:               msg.Memory,
		TickTimeout:          msg.TickTimeout,
		TotalTimeout:         msg.TotalTimeout,
		IsProduction:         msg.IsProduction,
		Cron:                 msg.Cron,
		CronRegion:           msg.CronRegion,
	}
}

func (r *Reactor) handleDeploy(ctx context.Context, msg controlplane.Message) {
	dep := toDeployment(msg)

	if err := r.Store.Download(ctx, dep, r.Downloader); err != nil {
		metrics.Deployments.WithLabelValues("error", dep.ID, dep.FunctionName).Inc()
		r.Log.WithError(err).WithField("deployment_id", dep.ID).Error("deploy: download failed")
		return
	}
	metrics.Deployments.WithLabelValues("success", dep.ID, dep.FunctionName).Inc()

	domains := dep.EffectiveDomains(r.RootDomain)
	r.Registry.BindAll(domains, dep)

	if dep.IsCron() && dep.CronRegion == r.Region {
		if err := r.Cron.Register(dep.ID, dep.Cron, r.cronJob(dep.ID)); err != nil {
			r.Log.WithError(err).WithField("deployment_id", dep.ID).Warn("deploy: cron registration failed")
		}
	}
}

func (r *Reactor) handleUndeploy(msg controlplane.Message) {
	dep, known := r.Registry.ByID(msg.DeploymentID)
	if !known {
		dep = toDeployment(msg)
	}

	status := "success"
	if err := r.Store.Remove(dep.ID); err != nil {
		status = "error"
		r.Log.WithError(err).WithField("deployment_id", dep.ID).Warn("undeploy: artifact removal failed")
	}
	metrics.Undeployments.WithLabelValues(status, dep.ID, dep.FunctionName).Inc()

	r.Registry.UnbindAll(dep.EffectiveDomains(r.RootDomain))
	r.Registry.Forget(dep.ID)
	r.Pool.Terminate(dep.ID, "undeployment")

	if dep.IsCron() {
		r.Cron.Deregister(dep.ID)
	}
}

// handlePromote swaps the production pointer to msg.DeploymentID within a
// function, demoting the deployment identified by msg's previous id.
//
// The previous deployment is cloned with is_production=false and rebound
// under the effective domains computed from *that clone* (its production
// domain is not part of this set once is_production flips). This matches
// spec: the former production domain is left for the newly-promoted
// deployment to claim in the BindAll call below, not re-derived from the
// clone. See DESIGN.md for the full discussion of this ordering and its
// test coverage.
func (r *Reactor) handlePromote(ctx context.Context, msg controlplane.Message) {
	newDep := toDeployment(msg)

	if prev, ok := r.Registry.ByID(msg.PreviousDeploymentID); ok {
		prevDomains := prev.EffectiveDomains(r.RootDomain)
		r.Registry.UnbindAll(prevDomains)

		demoted := prev.Clone()
		demoted.IsProduction = false
		r.Registry.BindAll(demoted.EffectiveDomains(r.RootDomain), demoted)

		r.Pool.Terminate(prev.ID, "promotion")
		if prev.IsCron() {
			r.Cron.Deregister(prev.ID)
		}
	}

	metrics.Promotions.WithLabelValues(newDep.ID, newDep.FunctionName).Inc()
	r.Registry.BindAll(newDep.EffectiveDomains(r.RootDomain), newDep)

	if newDep.IsCron() && newDep.CronRegion == r.Region {
		if err := r.Cron.Register(newDep.ID, newDep.Cron, r.cronJob(newDep.ID)); err != nil {
			r.Log.WithError(err).WithField("deployment_id", newDep.ID).Warn("promote: cron registration failed")
		}
	}
}

func (r *Reactor) cronJob(deploymentID string) cronreg.Job {
	return func() {
		if r.OnCron != nil {
			r.OnCron(deploymentID)
		}
	}
}

// SeedCron registers cron jobs for every deployment already bound in the
// registry at startup, tolerating a repeated call (Register is idempotent).
func (r *Reactor) SeedCron() {
	for _, dep := range r.Registry.Iter() {
		if dep.IsCron() && dep.CronRegion == r.Region {
			if err := r.Cron.Register(dep.ID, dep.Cron, r.cronJob(dep.ID)); err != nil {
				r.Log.WithError(err).WithField("deployment_id", dep.ID).Warn("cron seeding failed")
			}
		}
	}
}
