package sandbox

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Runner executes generated code against the dataset. Each Run call acquires
// its own environment, uploads the dataset, executes, and tears down; the
// environment never outlives the call.
type Runner struct {
	Client      *Client
	DatasetPath string
	// RemoteName is the filename the dataset is uploaded under; generated
	// code is prompted to read this path. Defaults to "data.csv".
	RemoteName string
}

// Run executes source in a fresh environment. Runtime failures inside the
// code are returned as data in the ExecutionResult; only transport failures
// produce a non-nil error.
func (r *Runner) Run(ctx context.Context, source string) (*ExecutionResult, error) {
	data, err := os.ReadFile(r.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	name := r.RemoteName
	if name == "" {
		name = "data.csv"
	}

	env, err := r.Client.Create(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Teardown must run on every exit path. Use a fresh context so a
		// cancelled run still releases the environment.
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		_ = env.Teardown(tctx)
	}()

	if _, err := env.WriteFile(ctx, name, data); err != nil {
		return nil, err
	}
	return env.RunCode(ctx, source)
}

const teardownTimeout = 10 * time.Second
