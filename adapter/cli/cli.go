// Package cli drives an application from the command line. The adapter
// turns one invocation into a "cli.command" event; NewRootCommand builds a
// cobra tree around an application factory with commands for the full
// lifecycle, single invocations, state inspection and provider commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/stonekit/internal/runtime"
	"github.com/drblury/stonekit/internal/runtime/config"
	"github.com/drblury/stonekit/internal/runtime/events"
	"github.com/drblury/stonekit/internal/runtime/jsoncodec"
)

const (
	// Name is the catalog key of the CLI adapter.
	Name = "cli"
	// EventType is the type of events built from invocations.
	EventType = "cli.command"
	// KernelName is the kernel the handle command runs.
	KernelName = "cli"
)

// Metadata keys set on invocation events.
const (
	MetadataKeyArgs    = "cli.args"
	MetadataKeyCommand = "cli.command"
)

// Adapter handles a single invocation and prints the response.
type Adapter struct {
	args []string
	out  io.Writer
}

// New returns an adapter for args writing to out.
func New(args []string, out io.Writer) *Adapter {
	if out == nil {
		out = io.Discard
	}
	return &Adapter{args: append([]string(nil), args...), out: out}
}

// Factory returns a catalog factory serving one invocation.
func Factory(args []string, out io.Writer) runtime.AdapterFactory {
	return func(*runtime.Application, config.AdapterOptions) (runtime.Adapter, error) {
		return New(args, out), nil
	}
}

// NewEvent builds the event of an invocation. The first argument is the
// command; the rest is available under MetadataKeyArgs as well.
func NewEvent(args []string) *events.Event {
	command := ""
	if len(args) > 0 {
		command = args[0]
	}
	return events.New(EventType, Name,
		events.WithData(args),
		events.WithMetadata(map[string]any{
			"cli": map[string]any{
				"command": command,
				"args":    append([]string(nil), args...),
			},
		}),
	)
}

// Run handles the invocation, prints the response content and returns the
// response.
func (a *Adapter) Run(ctx context.Context, handler runtime.EventHandler) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := handler.Handle(ctx, NewEvent(a.args))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	if err := WriteContent(a.out, resp.Content()); err != nil {
		return resp, err
	}
	return resp, nil
}

// WriteContent prints content: strings and bytes as is, proto messages as
// protojson and anything else as indented JSON.
func WriteContent(out io.Writer, content any) error {
	var (
		data []byte
		err  error
	)
	switch c := content.(type) {
	case nil:
		return nil
	case string:
		data = []byte(c)
	case []byte:
		data = c
	case proto.Message:
		data, err = protojson.MarshalOptions{Multiline: true}.Marshal(c)
	default:
		data, err = jsoncodec.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("stonekit: encoding cli output: %w", err)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	_, err = out.Write(data)
	return err
}

// AppFactory builds an application from loaded options.
type AppFactory func(conf *config.Options) (*runtime.Application, error)

// StatusError is returned by the handle command when the response status
// marks a failure.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stonekit: command failed with status %d", e.Status)
}

type rootOptions struct {
	configPath string
	factory    AppFactory
}

func (o *rootOptions) load() (*config.Options, error) {
	return config.Load(o.configPath)
}

func (o *rootOptions) build() (*runtime.Application, error) {
	conf, err := o.load()
	if err != nil {
		return nil, err
	}
	return o.buildFrom(conf)
}

func (o *rootOptions) buildFrom(conf *config.Options) (*runtime.Application, error) {
	app, err := o.factory(conf)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, errors.New("stonekit: application factory returned nil")
	}
	return app, nil
}

// NewRootCommand returns the command tree of an application named name.
func NewRootCommand(name string, factory AppFactory) *cobra.Command {
	opts := &rootOptions{factory: factory}
	root := &cobra.Command{
		Use:          name,
		Short:        fmt.Sprintf("Run and inspect the %s application", name),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")

	root.AddCommand(
		newRunCmd(opts),
		newHandleCmd(opts),
		newStateCmd(opts),
		newProvidersCmd(opts),
	)
	return root
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Set up, register, boot and start the active kernel, then terminate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.build()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := app.Setup(ctx); err != nil {
				return err
			}
			if err := app.Register(ctx); err != nil {
				return err
			}
			if err := app.Boot(ctx); err != nil {
				return err
			}
			out, runErr := app.Start(ctx)
			termErr := app.Terminate(context.WithoutCancel(ctx))
			if runErr != nil {
				return errors.Join(runErr, termErr)
			}
			if resp, ok := out.(events.Response); ok {
				out = resp.Content()
			}
			if err := WriteContent(cmd.OutOrStdout(), out); err != nil {
				return errors.Join(err, termErr)
			}
			return termErr
		},
	}
}

func newHandleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handle [args...]",
		Short: "Handle one invocation through the cli kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.load()
			if err != nil {
				return err
			}
			useCLIKernel(conf)
			app, err := opts.buildFrom(conf)
			if err != nil {
				return err
			}
			app.Catalog().Adapter(Name, Factory(args, cmd.OutOrStdout()))

			ctx := cmd.Context()
			if err := app.Setup(ctx); err != nil {
				return err
			}
			out, runErr := app.Start(ctx)
			termErr := app.Terminate(context.WithoutCancel(ctx))
			if runErr != nil {
				return errors.Join(runErr, termErr)
			}
			if resp, ok := out.(events.Response); ok && resp.StatusCode() >= 400 {
				return errors.Join(&StatusError{Status: resp.StatusCode()}, termErr)
			}
			return termErr
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// useCLIKernel makes the cli kernel active, declaring it when the
// configuration does not.
func useCLIKernel(conf *config.Options) {
	if conf.App.Kernels == nil {
		conf.App.Kernels = make(map[string]config.KernelOptions)
	}
	kernel, ok := conf.App.Kernels[KernelName]
	if !ok {
		kernel = config.KernelOptions{Type: config.DefaultKernelType}
	}
	if kernel.Adapter == "" {
		kernel.Adapter = Name
	}
	conf.App.Kernels[KernelName] = kernel
	conf.App.Kernel = KernelName
}

func newStateCmd(opts *rootOptions) *cobra.Command {
	var dumpConfig bool
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Boot the application and print its state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := opts.load()
			if err != nil {
				return err
			}
			if dumpConfig {
				data, err := conf.YAML()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			app, err := opts.buildFrom(conf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := app.Setup(ctx); err != nil {
				return err
			}
			if err := app.Register(ctx); err != nil {
				return err
			}
			if err := app.Boot(ctx); err != nil {
				return err
			}
			return WriteContent(cmd.OutOrStdout(), app.Snapshot())
		},
	}
	cmd.Flags().BoolVar(&dumpConfig, "config-dump", false, "print the effective configuration as YAML instead")
	return cmd
}

func newProvidersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers [command [args...]]",
		Short: "List or run the commands contributed by providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.build()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := app.Setup(ctx); err != nil {
				return err
			}
			if err := app.Register(ctx); err != nil {
				return err
			}
			if err := app.Boot(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Terminate(context.WithoutCancel(ctx)) }()

			commands := app.Commands()
			if len(args) == 0 {
				for _, c := range commands {
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", c.Name(), c.Short); err != nil {
						return err
					}
				}
				return nil
			}

			sub := &cobra.Command{Use: "providers", SilenceUsage: true, SilenceErrors: true}
			sub.AddCommand(commands...)
			sub.SetArgs(args)
			sub.SetOut(cmd.OutOrStdout())
			sub.SetErr(cmd.ErrOrStderr())
			return sub.ExecuteContext(ctx)
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}
