package pool

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lagonhq/lagon-node/internal/artifact"
	"github.com/lagonhq/lagon-node/internal/isolate"
	"github.com/lagonhq/lagon-node/internal/metrics"
	"github.com/lagonhq/lagon-node/internal/registry"
)

// RegistrySpawner builds isolate.Options for a deployment id by looking it
// up in the registry and reading its entry script off disk via the
// artifact store. It is the concrete Spawner used by cmd/lagond.
type RegistrySpawner struct {
	Registry *registry.Registry
	Store    *artifact.Store
}

func (s *RegistrySpawner) Spawn(ctx context.Context, deploymentID string) (isolate.Options, error) {
	dep, ok := s.Registry.ByID(deploymentID)
	if !ok {
		return isolate.Options{}, fmt.Errorf("no known deployment %s", deploymentID)
	}

	entry, err := os.ReadFile(s.Store.EntryPath(deploymentID))
	if err != nil {
		return isolate.Options{}, fmt.Errorf("read entry script: %w", err)
	}

	return isolate.Options{
		DeploymentID: dep.ID,
		FunctionID:   dep.FunctionID,
		FunctionName: dep.FunctionName,
		EntryScript:  entry,
		Env:          dep.EnvironmentVariables,
		Memory:       dep.Memory,
		TickTimeout:  time.Duration(dep.TickTimeout) * time.Millisecond,
		TotalTimeout: time.Duration(dep.TotalTimeout) * time.Millisecond,
		OnStatistics: func(cpuTimeMicros int64, memoryBytes int64) {
			metrics.IsolateMemoryUsage.Observe(float64(memoryBytes))
		},
	}, nil
}
