// Package deployment describes the unit of routing and execution: a
// versioned, immutable bundle of code, assets, environment and limits,
// addressable by one or more domains.
package deployment

import "fmt"

// Deployment is the unit of routing and execution. Values are treated as
// immutable snapshots shared across many in-flight requests; lifecycle
// transitions replace the map entry that holds one rather than mutating it
// in place.
type Deployment struct {
	ID           string
	FunctionID   string
	FunctionName string

	Assets []string
	Domains []string

	EnvironmentVariables map[string]string

	Memory       int64
	TickTimeout  int64
	TotalTimeout int64

	IsProduction bool

	Cron       string
	CronRegion string
}

// IsCron reports whether this deployment is a scheduled job rather than an
// HTTP-callable function.
func (d *Deployment) IsCron() bool {
	return d.Cron != ""
}

// HasAsset reports whether path matches one of the deployment's shipped
// static assets.
func (d *Deployment) HasAsset(path string) bool {
	for _, a := range d.Assets {
		if a == path {
			return true
		}
	}
	return false
}

// EffectiveDomains returns the full set of hostnames that route to this
// deployment: its explicit domains plus one derived hostname based on
// production status. A production deployment additionally exposes
// {function_name}.{root_domain}; a non-production deployment exposes
// {id}.{root_domain} instead.
func (d *Deployment) EffectiveDomains(rootDomain string) []string {
	out := make([]string, 0, len(d.Domains)+1)
	out = append(out, d.Domains...)
	if d.IsProduction {
		out = append(out, fmt.Sprintf("%s.%s", d.FunctionName, rootDomain))
	} else {
		out = append(out, fmt.Sprintf("%s.%s", d.ID, rootDomain))
	}
	return out
}

// Clone returns a deep-enough copy suitable for mutate-then-replace
// lifecycle transitions (Promote clones the previous production deployment
// before flipping IsProduction).
func (d *Deployment) Clone() *Deployment {
	clone := *d
	clone.Assets = append([]string(nil), d.Assets...)
	clone.Domains = append([]string(nil), d.Domains...)
	if d.EnvironmentVariables != nil {
		clone.EnvironmentVariables = make(map[string]string, len(d.EnvironmentVariables))
		for k, v := range d.EnvironmentVariables {
			clone.EnvironmentVariables[k] = v
		}
	}
	return &clone
}
