package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
)

// LifecycleHooks are optional callbacks around the application phases.
// Nil hooks are skipped.
type LifecycleHooks struct {
	// OnInit runs first thing in Setup.
	OnInit func(ctx context.Context, app *Application) error
	// BeforeHandle runs at the start of Start, before the kernel runs.
	BeforeHandle func(ctx context.Context, app *Application) error
	// OnTerminate runs in Terminate after providers were terminated and
	// before state is cleared.
	OnTerminate func(ctx context.Context, app *Application) error
}

// Merge combines two sets of hooks. The hooks from other run after the hooks
// from h; the first error stops the chain.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnInit:       chainHooks(h.OnInit, other.OnInit),
		BeforeHandle: chainHooks(h.BeforeHandle, other.BeforeHandle),
		OnTerminate:  chainHooks(h.OnTerminate, other.OnTerminate),
	}
}

func chainHooks(a, b func(context.Context, *Application) error) func(context.Context, *Application) error {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, app *Application) error {
		if err := a(ctx, app); err != nil {
			return err
		}
		return b(ctx, app)
	}
}

func runHook(ctx context.Context, hook func(context.Context, *Application) error, app *Application) error {
	if hook == nil {
		return nil
	}
	return hook(ctx, app)
}

// LoggingHooks returns hooks that log each lifecycle milestone.
func LoggingHooks(logger loggingpkg.ServiceLogger) LifecycleHooks {
	var initAt time.Time
	return LifecycleHooks{
		OnInit: func(_ context.Context, app *Application) error {
			initAt = time.Now()
			logger.Info("Application initialising", loggingpkg.LogFields{
				"app": app.Name(),
				"env": app.Env(),
			})
			return nil
		},
		BeforeHandle: func(_ context.Context, app *Application) error {
			logger.Info("Application starting", loggingpkg.LogFields{
				"app":    app.Name(),
				"kernel": app.conf.ActiveKernel(),
			})
			return nil
		},
		OnTerminate: func(_ context.Context, app *Application) error {
			fields := loggingpkg.LogFields{"app": app.Name()}
			if !initAt.IsZero() {
				fields["uptime_ms"] = time.Since(initAt).Milliseconds()
			}
			logger.Info("Application terminating", fields)
			return nil
		},
	}
}
