package main

import (
	"context"
	"errors"
	"fmt"
	"log"
)

type shutdownStep struct {
	name string
	stop func(ctx context.Context) error
}

// runShutdown stops each step in order. A failing step is logged and the
// rest still run, so the database outlives the HTTP drain.
func runShutdown(ctx context.Context, steps []shutdownStep) error {
	var errs []error
	for _, step := range steps {
		if err := step.stop(ctx); err != nil {
			log.Printf("[shutdown] %s: %v", step.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		log.Printf("[shutdown] %s stopped", step.name)
	}
	return errors.Join(errs...)
}
