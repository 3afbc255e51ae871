package main

import (
	"fmt"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/taskreactor/orchestrator/config"
	temporalengine "github.com/taskreactor/orchestrator/workflow/engine/temporal"
	"github.com/taskreactor/orchestrator/workflow"
)

// buildTemporalEngine dials the configured Temporal frontend, registers the
// orchestrator's one workflow/activity set on cfg.TemporalTaskQueue, and
// starts the worker in the background. The returned close func stops the
// worker and closes the client cleanly on shutdown.
func buildTemporalEngine(cfg config.Config, driver *workflow.Driver) (workflow.Engine, func(), error) {
	c, err := client.Dial(client.Options{HostPort: cfg.TemporalHostPort})
	if err != nil {
		return nil, nil, fmt.Errorf("dial temporal at %s: %w", cfg.TemporalHostPort, err)
	}

	eng := temporalengine.New(temporalengine.Options{
		Client:        c,
		TaskQueue:     cfg.TemporalTaskQueue,
		WorkerOptions: worker.Options{},
	}, driver)

	w := eng.Worker()
	interrupt := make(chan interface{})
	go func() {
		if err := w.Run(interrupt); err != nil {
			fmt.Fprintf(os.Stderr, "temporal worker exited with error: %v\n", err)
		}
	}()

	stop := func() {
		close(interrupt)
		c.Close()
	}
	return eng, stop, nil
}
