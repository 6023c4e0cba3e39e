// Package cli wires the markdown-cli command line onto the command handlers.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Laisky/errors/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/notassigned/markdowncli/internal/commands"
	"github.com/notassigned/markdowncli/internal/config"
	"github.com/notassigned/markdowncli/internal/logging"
)

// usageError is reported with the usage text and exit status 1.
type usageError struct {
	message string
}

func (e *usageError) Error() string {
	return e.message
}

type app struct {
	stdout, stderr io.Writer
	v              *viper.Viper
	newService     ServiceFactory
	runEditor      commands.EditorFunc
}

// Run executes one command line and returns the process exit status.
func Run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		stdout:     stdout,
		stderr:     stderr,
		newService: NewService,
		runEditor:  commands.ExecEditor,
	}
	return a.run(ctx, args)
}

func (a *app) run(ctx context.Context, args []string) int {
	a.v = config.New()
	root := a.rootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	defer logging.Sync()
	if err == nil {
		return 0
	}

	var usage *usageError
	if errors.As(err, &usage) {
		fmt.Fprintln(a.stderr, usage.message)
		printUsage(a.stdout, root.PersistentFlags())
		return 1
	}
	fmt.Fprintf(a.stderr, "Error: %s\n", err.Error())
	return 1
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "markdown-cli [options] <command> [args]",
		Short:         "command line client for the markdown file service",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				printUsage(a.stdout, cmd.Root().PersistentFlags())
				return nil
			}
			return &usageError{message: "Unrecognized command: " + args[0]}
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringP("server", "s", config.DefaultServer, "Server URL: url://<service>/ or http(s)://host:port")
	flags.StringP("output", "o", "", "Output path for download")
	flags.BoolP("help", "h", false, "Show help")
	flags.String("config", "", "Path to a YAML config file")
	flags.String("log-level", "warn", "Log level: debug, info, warn or error")
	if err := config.BindFlags(a.v, flags); err != nil {
		// flags are declared right above
		panic(err)
	}

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{message: "Error: " + err.Error()}
	})
	root.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		printUsage(a.stdout, cmd.Root().PersistentFlags())
	})
	// "help" is not a command; -h/--help is the only way to ask for usage
	root.SetHelpCommand(&cobra.Command{Hidden: true})

	root.AddCommand(
		a.command("upload <file>", "Upload a local markdown file to the service",
			func(ctx context.Context, h *commands.Handlers, _ *config.Config, args []string) error {
				return h.Upload(ctx, args)
			}),
		a.command("download <name>", "Download a file by name to current directory",
			func(ctx context.Context, h *commands.Handlers, cfg *config.Config, args []string) error {
				return h.Download(ctx, args, cfg.Output)
			}),
		a.command("edit <name>", "Edit a file using $EDITOR",
			func(ctx context.Context, h *commands.Handlers, _ *config.Config, args []string) error {
				return h.Edit(ctx, args)
			}),
		a.command("list", "List all files in the service",
			func(ctx context.Context, h *commands.Handlers, _ *config.Config, _ []string) error {
				return h.List(ctx)
			}),
		a.command("delete <name>", "Delete a file by name",
			func(ctx context.Context, h *commands.Handlers, _ *config.Config, args []string) error {
				return h.Delete(ctx, args)
			}),
		a.command("health", "Check server health",
			func(ctx context.Context, h *commands.Handlers, _ *config.Config, _ []string) error {
				return h.Health(ctx)
			}),
		a.command("rename <name> <new-name>", "Rename a file",
			func(ctx context.Context, h *commands.Handlers, _ *config.Config, args []string) error {
				return h.Rename(ctx, args)
			}),
		a.command("show <id>", "Print the content of a file by id",
			func(ctx context.Context, h *commands.Handlers, _ *config.Config, args []string) error {
				return h.Show(ctx, args)
			}),
	)
	return root
}

type handlerFunc func(ctx context.Context, h *commands.Handlers, cfg *config.Config, args []string) error

// command builds a subcommand whose handler runs against a freshly built
// service. The service is closed on every return path.
func (a *app) command(use, short string, fn handlerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			if err := logging.Init(logging.Config{
				Level:      cfg.LogLevel,
				Format:     cfg.LogFormat,
				OutputPath: cfg.LogOutput,
			}); err != nil {
				return errors.Wrap(err, "init logger")
			}
			logging.L().Debug("run command",
				zap.String("command", cmd.Name()),
				zap.String("server", cfg.Server))

			svc, err := a.newService(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					logging.L().Warn("close service", zap.Error(err))
				}
			}()

			h := &commands.Handlers{
				Service:   svc,
				Out:       a.stdout,
				Editor:    cfg.Editor,
				RunEditor: a.runEditor,
			}
			return fn(cmd.Context(), h, cfg, args)
		},
	}
}
