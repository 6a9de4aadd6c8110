package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"keyauthcli/pkg/contracts"
)

const (
	exitOK             = 0
	exitFailure        = 1
	exitUpdateRequired = 2
)

// newApp creates the CLI application.
func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "keyauth",
		Usage:     "KeyAuth license client",
		Version:   contracts.GetVersionInfo().String(),
		Flags:     globalFlags(),
		Writer:    stdout,
		ErrWriter: stderr,
		// run maps exit codes itself
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			initCommand(),
			registerCommand(),
			loginCommand(),
			blacklistCommand(),
			downloadCommand(),
			logCommand(),
			banCommand(),
			watchCommand(),
			sealSecretCommand(),
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			EnvVars: []string{"KEYAUTH_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "KeyAuth API URL (overrides client.endpoint)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (overrides logging.level)",
		},
	}
}

// run executes the application and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	if err := app.RunContext(ctx, args); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		var coder cli.ExitCoder
		if errors.As(err, &coder) {
			return coder.ExitCode()
		}
		return exitFailure
	}
	return exitOK
}
