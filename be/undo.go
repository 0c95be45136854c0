package be

import (
	"context"
	"errors"
	"fmt"
)

type undoStep struct {
	desc string
	fn   func(ctx context.Context) error
}

// compensation records how to undo every completed step of a multi-step operation
type compensation struct {
	engine *Engine
	op     string
	steps  []undoStep
}

func (e *Engine) newCompensation(op string) *compensation {
	return &compensation{
		engine: e,
		op:     op,
	}
}

func (c *compensation) register(desc string, fn func(ctx context.Context) error) {
	c.steps = append(c.steps, undoStep{desc: desc, fn: fn})
}

// unwind runs the registered steps in reverse order. The steps run even when the context of the
// operation was cancelled. Failed steps do not stop the unwinding.
func (c *compensation) unwind(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		err := step.fn(ctx)
		if err == nil {
			c.engine.logger.Debug("be.compensation.unwind: Undone", "op", c.op, "step", step.desc)
			continue
		}

		err = fmt.Errorf("error undoing %s: %w", step.desc, err)
		c.engine.logger.Error("be.compensation.unwind: Undo failed", "op", c.op, "step", step.desc, "error", err)
		c.engine.diagnose(c.op+"/unwind", wrapError(c.op, step.desc, err))
		errs = append(errs, err)
	}
	c.steps = nil
	return errors.Join(errs...)
}

// destroyDataset registers the removal of a created dataset
func (c *compensation) destroyDataset(name string, recursive bool) {
	c.register("create "+name, func(ctx context.Context) error {
		return c.engine.storage.Destroy(ctx, name, recursive)
	})
}

// unmountPath registers the unmount of a mounted path
func (c *compensation) unmountPath(dataset, path string) {
	c.register("mount "+dataset+" at "+path, func(ctx context.Context) error {
		return c.engine.storage.Unmount(ctx, path, true)
	})
}
