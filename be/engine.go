// Package be manages boot environments: bootable, cloneable trees of ZFS datasets.
package be

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"time"

	eventemitter "github.com/vansante/go-event-emitter"
)

// Engine performs the boot environment operations on a Storage.
// It keeps no state between calls, every operation reads the pool again.
type Engine struct {
	*eventemitter.Emitter

	storage Storage
	config  Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates a new Engine
func NewEngine(storage Storage, conf Config, logger *slog.Logger) *Engine {
	return &Engine{
		Emitter: eventemitter.NewEmitter(false),
		storage: storage,
		config:  conf,
		logger:  logger,
		now:     time.Now,
	}
}

// Config returns the configuration of the engine
func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) resolvePool(op, pool string) (string, error) {
	if pool != "" {
		return pool, nil
	}
	if e.config.Pool == "" {
		return "", newError(Invalid, op, "", "no pool given and no default pool configured")
	}
	return e.config.Pool, nil
}

func (e *Engine) container(pool string) string {
	return path.Join(pool, e.config.RootContainer)
}

// open resolves the pool, reads it and finds the named boot environment
func (e *Engine) open(ctx context.Context, op, pool, name string) (*forest, *envTree, error) {
	f, err := e.discover(ctx, pool)
	if err != nil {
		return nil, nil, err
	}
	env, ok := f.lookup(pool, e.config.RootContainer, name)
	if !ok {
		return nil, nil, newError(NoEnt, op, name, "boot environment not found in pool %s", pool)
	}
	return f, env, nil
}

// fail reports a failed operation, unwinding the completed steps first
func (e *Engine) fail(ctx context.Context, op, name string, err error, undo *compensation) error {
	beErr := wrapError(op, name, err)
	if beErr.Op == "" {
		beErr.Op = op
	}
	e.logger.Error("be.Engine.fail: Operation failed", "op", op, "name", name, "error", err)
	e.diagnose(op, beErr)

	if undo != nil {
		unwindErr := undo.unwind(ctx)
		if unwindErr != nil {
			beErr.Err = errors.Join(beErr.Err, unwindErr)
		}
	}
	return beErr
}
