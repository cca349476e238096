package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dbtyaml/internal/config"
	"dbtyaml/internal/fields"
	"dbtyaml/internal/logger"
	"dbtyaml/internal/store"
	"dbtyaml/internal/utils"
	"dbtyaml/internal/version"
	"dbtyaml/internal/web"

	"github.com/spf13/cobra"
)

const longHelp = `dbtyaml manages the models of DBT properties files (YAML).

Models are added, updated and deleted from the command line or from a web
form, and every change is written back to the file.

Each [command] and subcommand has got an "help" and "--help" flag to show more information.
`

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	app := &application{}

	// The base command
	rootCmd := &cobra.Command{
		Use:           "dbtyaml",
		Long:          longHelp,
		Short:         "dbtyaml manages the models of DBT YAML configuration files",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.teardown()
		},
	}
	rootCmd.Example = `  dbtyaml add stg_orders -m view -t staging --column order_id:unique,not_null
  dbtyaml serve --listen 127.0.0.1:8501`

	rootCmd.Version = version.GetVersion()
	rootCmd.CompletionOptions.DisableDescriptions = false
	rootCmd.CompletionOptions.DisableNoDescFlag = false

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.configFile, "config", "", "Configuration file (default "+config.DefaultFile+" or $"+config.EnvConfig+")")
	flags.StringVarP(&app.dir, "dir", "D", config.DefaultDir, "Directory of the DBT properties files")
	flags.StringVar(&app.logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn or error")
	flags.BoolVar(&app.noColor, "no-color", false, "Disable colors")

	rootCmd.AddCommand(
		generateCompletionCommand(rootCmd.Name()),
		generateVersionCommand(),
		generateSchemaCommand(),
		generateFieldHelpCommand(),
		generateFilesCommand(app),
		generateListCommand(app),
		generateShowCommand(app),
		generateAddCommand(app),
		generateUpdateCommand(app),
		generateDeleteCommand(app),
		generateDiffCommand(app),
		generateValidateCommand(app),
		generateExportCommand(app),
		generateServeCommand(app),
	)

	return rootCmd
}

const completionHelp = `Print the completion script of %[1]s for a shell.

Model names are completed from the configuration directory.

Bash (needs the bash-completion package):
  $ source <(%[1]s completion bash)
  # for every session
  $ %[1]s completion bash > ~/.local/share/bash-completion/completions/%[1]s

Zsh (compinit must be enabled):
  $ %[1]s completion zsh > "${fpath[1]}/_%[1]s"

Fish:
  $ %[1]s completion fish > ~/.config/fish/completions/%[1]s.fish

PowerShell:
  PS> %[1]s completion powershell | Out-String | Invoke-Expression
`

func generateCompletionCommand(name string) *cobra.Command {
	bashV1 := false
	cmd := &cobra.Command{
		Use:                   "completion",
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		Short:                 "Print a shell completion script",
		Long:                  fmt.Sprintf(completionHelp, name),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				// get the bash version
				if cmd.Flags().Changed("bash-v1") {
					return cmd.Root().GenBashCompletion(out)
				}
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletion(out)
			}
			return nil
		},
	}

	cmd.Flags().Bool("bash-v1", bashV1, "Use the older bash completion script")

	return cmd
}

func generateVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dbtyaml",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.GetVersion())
		},
	}
}

func generateSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of DBT properties files",
		Long: `Print the JSON schema of DBT properties files.
The schema can be used by editors to validate and complete the files.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(store.GenerateSchema())
		},
	}
}

func generateFieldHelpCommand() *cobra.Command {
	markdown := false
	all := false
	cmd := &cobra.Command{
		Use:   "help-fields [field]",
		Short: "Print the help of the model fields",
		Long: `Print the help for all or a specific model field
If no field is specified, a summary of all fields is printed.
If a field is specified, the full help for this field is printed.

e.g.
  dbtyaml help-fields
  dbtyaml help-fields materialized
  dbtyaml help-fields relationships
`,
		ValidArgs: fields.GetFieldNames(),
		Args:      cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) > 0 {
				fmt.Println(fields.GetFieldHelpFor(args[0], markdown))
				return
			}
			if all {
				// show the help for all fields
				l := len(fields.GetFieldNames())
				for i, name := range fields.GetFieldNames() {
					fmt.Println(fields.GetFieldHelpFor(name, markdown))
					if !markdown && i < l-1 {
						fmt.Println(strings.Repeat("-", 80))
					}
				}
				return
			}
			fmt.Println(fields.GetFieldHelp(markdown))
		},
	}

	cmd.Flags().BoolVarP(&markdown, "markdown", "m", markdown, "Use the markdown format")
	cmd.Flags().BoolVarP(&all, "all", "a", all, "Print the full help for all fields")

	return cmd
}

func generateServeCommand(app *application) *cobra.Command {
	listen := ""
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web interface",
		Long: `Start the web interface to list, add, update, delete and validate models.
The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = app.config.Listen
			}
			ws, err := app.workspace()
			if err != nil {
				return err
			}
			timeout, err := app.config.Shutdown()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Cyanf("%s Serving %s on http://%s\n", utils.IconWorld, ws.Dir(), listen)
			server := web.New(ws, web.Options{
				SupportedVersions: app.config.SupportedVersions,
				ShutdownTimeout:   timeout,
			})
			return server.Serve(ctx, listen)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", listen, "Address to listen on (default "+config.DefaultListen+")")
	return cmd
}
