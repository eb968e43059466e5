package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/drblury/stonekit/internal/runtime/config"
	loggingpkg "github.com/drblury/stonekit/internal/runtime/logging"
)

// Built-in bootstrapper names.
const (
	BootstrapRegisterProviders = "register_providers"
	BootstrapBootProviders     = "boot_providers"
	BootstrapLoadEnvironment   = "load_environment"
)

// Bootstrapper prepares the application before its kernel runs.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, app *Application) error
}

// BootstrapperFunc adapts a function to Bootstrapper.
type BootstrapperFunc func(ctx context.Context, app *Application) error

func (f BootstrapperFunc) Bootstrap(ctx context.Context, app *Application) error {
	return f(ctx, app)
}

func bootstrapperKey(name string) string {
	return "bootstrapper." + name
}

// RegisterProviders runs the register phase.
func RegisterProviders() Bootstrapper {
	return BootstrapperFunc(func(ctx context.Context, app *Application) error {
		return app.Register(ctx)
	})
}

// BootProviders runs the boot phase.
func BootProviders() Bootstrapper {
	return BootstrapperFunc(func(ctx context.Context, app *Application) error {
		return app.Boot(ctx)
	})
}

// LoadEnvironment exports the keys of the configured env file into the
// process environment. Variables already set win. A missing default env
// file is ignored; a missing file that was configured explicitly is an error.
func LoadEnvironment() Bootstrapper {
	return BootstrapperFunc(func(_ context.Context, app *Application) error {
		path := app.conf.App.EnvFile
		if path == "" {
			path = config.DefaultEnvFile
		}

		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == config.DefaultEnvFile {
				return nil
			}
			return fmt.Errorf("stonekit: env file %s: %w", path, err)
		}

		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("stonekit: reading env file %s: %w", path, err)
		}

		loaded := 0
		for _, key := range v.AllKeys() {
			name := strings.ToUpper(key)
			if _, set := os.LookupEnv(name); set {
				continue
			}
			if err := os.Setenv(name, v.GetString(key)); err != nil {
				return fmt.Errorf("stonekit: exporting %s: %w", name, err)
			}
			loaded++
		}
		app.logger.Debug("Environment loaded", loggingpkg.LogFields{"file": path, "variables": loaded})
		return nil
	})
}
