package main

import (
	"io"

	"dbtyaml/internal/config"
	"dbtyaml/internal/logger"
	"dbtyaml/internal/store"
	"dbtyaml/internal/workspace"

	"github.com/spf13/cobra"
)

// application holds what the commands share: the global flags, the loaded
// configuration and the workspace.
type application struct {
	configFile string
	dir        string
	logLevel   string
	noColor    bool

	config *config.Config
	ws     *workspace.Workspace
	closer io.Closer
}

// setup loads the configuration and applies the global flags over it.
func (a *application) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.Dir = a.dir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if a.noColor {
		cfg.Colors = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	closer, err := logger.Setup(logger.Options{
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
		Colors: cfg.Colors,
	})
	if err != nil {
		return err
	}
	logger.ActivateColors = cfg.Colors
	a.config, a.closer = cfg, closer
	return nil
}

func (a *application) teardown() {
	if a.closer != nil {
		a.closer.Close()
		a.closer = nil
	}
}

// workspace opens the configuration directory, creating it if needed.
func (a *application) workspace() (*workspace.Workspace, error) {
	if a.ws != nil {
		return a.ws, nil
	}
	ws, err := workspace.New(a.config.Dir, workspace.Options{
		Store:          store.Options{SupportedVersions: a.config.SupportedVersions},
		KeepEmptyFiles: a.config.KeepEmptyFiles,
	})
	if err != nil {
		return nil, err
	}
	a.ws = ws
	return ws, nil
}

// completeModels completes a model name from every file of the workspace.
func (a *application) completeModels(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if a.config == nil {
		if err := a.setup(cmd); err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
	}
	ws, err := a.workspace()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	files, err := ws.Files()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	var names []string
	for _, file := range files {
		if st, err := ws.Open(file); err == nil {
			names = append(names, st.ListModels()...)
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
