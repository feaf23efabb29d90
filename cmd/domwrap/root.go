package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"
)

// app carries what every subcommand shares.
type app struct {
	v       *viper.Viper
	cfg     Config
	cfgFile string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: newViper(), stdin: stdin, stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "domwrap",
		Short: "Wrap regular expression matches in HTML documents with elements",
		Long: `domwrap finds text in HTML documents, even when it is split across
elements, and wraps every matched piece in a marker element. Rules can be
applied in batch, served to scripts over a Unix socket or edited in a REPL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default domwrap.yaml in ~/.config/domwrap, ~ or .)")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.Bool("color", true, "colorize output")
	pf.String("socket", "", "path of the Unix socket")
	_ = a.v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("color", pf.Lookup("color"))
	_ = a.v.BindPFlag("socket", pf.Lookup("socket"))

	rootCmd.AddCommand(
		a.newApplyCmd(),
		a.newServeCmd(),
		a.newREPLCmd(),
		a.newVersionCmd(),
	)
	return rootCmd
}

// setup loads the configuration and installs the logger in the command's
// context.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	if cfg.Socket == "" {
		cfg.Socket = newViper().GetString("socket")
	}
	a.cfg = cfg

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return errors.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	if !cfg.Color {
		color.NoColor = true
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: a.stderr, NoColor: !cfg.Color}).
		Level(level).
		With().Timestamp().Logger()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logger.WithContext(ctx))
	return nil
}

func (a *app) newApplyCmd() *cobra.Command {
	var opts applyOptions

	cmd := &cobra.Command{
		Use:   "apply [files or globs...]",
		Short: "Apply rules to HTML files",
		Long: `Apply rules to HTML files. Globs may use ** to match nested directories.
Without files, the document is read from standard input.`,
		Example: `  domwrap apply --pattern 'TODO' --class todo 'docs/**/*.html'
  domwrap apply --rules rules.yaml --write site/*.html
  echo '<p>hello world</p>' | domwrap apply --pattern world --tag b`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), a.cfg, opts, args, a.stdin, a.stdout)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.RulesFile, "rules", "r", "", "YAML rule file")
	f.StringVarP(&opts.Pattern, "pattern", "p", "", "regular expression to wrap")
	f.StringVarP(&opts.Flags, "flags", "f", "", "pattern flags (g, i, m, s)")
	f.StringVarP(&opts.Tag, "tag", "t", "", "wrapper element name")
	f.StringVar(&opts.Class, "class", "", "class of the wrapper element")
	f.StringVarP(&opts.Selector, "selector", "s", "", "CSS selector of the elements to search")
	f.BoolVarP(&opts.Write, "write", "w", false, "write results back to the files")
	f.BoolVarP(&opts.Diff, "diff", "d", false, "show a diff instead of the result")
	f.Int("concurrency", 0, "number of files processed at once")
	_ = a.v.BindPFlag("concurrency", f.Lookup("concurrency"))
	cmd.MarkFlagsMutuallyExclusive("write", "diff")

	return cmd
}

func (a *app) newServeCmd() *cobra.Command {
	var inputFile, rulesFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a workspace over a Unix socket",
		Long: `Serve a workspace over a Unix socket. Clients send length-prefixed JSON
commands like {"action": "add_rule", "params": {"pattern": "foo"}}.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws := NewWorkspace(ctx)

			if rulesFile != "" {
				data, err := os.ReadFile(rulesFile)
				if err != nil {
					return errors.WithStack(err)
				}
				if err := ws.ImportRules(string(data)); err != nil {
					return errors.Errorf("%s: %w", rulesFile, err)
				}
			}
			if inputFile != "" {
				data, err := os.ReadFile(inputFile)
				if err != nil {
					return errors.WithStack(err)
				}
				ws.SetInput(string(data))
			}

			return serve(ctx, a.cfg.Socket, ws)
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "HTML file loaded as input")
	cmd.Flags().StringVarP(&rulesFile, "rules", "r", "", "YAML rule file loaded at start")
	return cmd
}

// serve runs the socket server until ctx is cancelled or a signal arrives.
func serve(ctx context.Context, socketPath string, ws *Workspace) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	server := NewSocketServer(socketPath, ws)
	server.SetUpdateCallback(func() {
		zerolog.Ctx(ctx).Debug().Int("matches", ws.GetStats().Matches).Msg("workspace updated")
	})
	if err := server.Start(ctx); err != nil {
		return err
	}
	server.Wait()
	return nil
}

func (a *app) newREPLCmd() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Edit rules interactively",
		Long: `Edit rules interactively. By default the REPL connects to a running
'domwrap serve'; with --local it works on a private workspace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			formatter := NewREPLFormatter(a.stdout, a.cfg.Color)

			var session *REPLSession
			if local {
				session = NewREPLSession(NewWorkspace(ctx), formatter, "Using a local workspace")
			} else {
				client, err := NewSocketClient(a.cfg.Socket)
				if err != nil {
					return err
				}
				defer client.Close()
				remote := NewRemoteCommands(client, *zerolog.Ctx(ctx))
				session = NewREPLSession(remote, formatter, "Connected to socket server at "+a.cfg.Socket)
			}
			session.SetHistoryFile(a.cfg.History)
			return session.Run()
		},
	}

	cmd.Flags().BoolVarP(&local, "local", "l", false, "use a local workspace instead of a server")
	return cmd
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(a.stdout, FormatVersion())
		},
	}
}
