package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"keyauthcli/internal/config"
	"keyauthcli/internal/security"
	"keyauthcli/pkg/keyauth"
)

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "username",
			Aliases:  []string{"u"},
			Usage:    "Account name",
			EnvVars:  []string{config.EnvPrefix + "_USERNAME"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "password",
			Aliases:  []string{"p"},
			Usage:    "Account password",
			EnvVars:  []string{config.EnvPrefix + "_PASSWORD"},
			Required: true,
		},
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Run the handshake and print the session id",
		Action: func(c *cli.Context) error {
			return withSession(c, false, func(ctx context.Context, s *session) error {
				if err := s.initialize(ctx, c); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "session %s\n", s.client.SessionID())
				return nil
			})
		},
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Create an account by redeeming a license key",
		Flags: append(credentialFlags(), &cli.StringFlag{
			Name:     "license",
			Aliases:  []string{"l"},
			Usage:    "License key to redeem",
			EnvVars:  []string{config.EnvPrefix + "_LICENSE"},
			Required: true,
		}),
		Action: func(c *cli.Context) error {
			return withSession(c, false, func(ctx context.Context, s *session) error {
				if err := s.initialize(ctx, c); err != nil {
					return err
				}
				out := s.client.Register(ctx, c.String("username"), c.String("password"), c.String("license"))
				if err := report(c, out); err != nil {
					return err
				}
				printAuthenticated(c, out)
				return nil
			})
		},
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Authenticate an existing account",
		Flags: credentialFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, false, func(ctx context.Context, s *session) error {
				return s.login(ctx, c)
			})
		},
	}
}

func blacklistCommand() *cli.Command {
	return &cli.Command{
		Name:  "blacklist",
		Usage: "Check whether this machine is blacklisted",
		Action: func(c *cli.Context) error {
			return withSession(c, false, func(ctx context.Context, s *session) error {
				if err := s.initialize(ctx, c); err != nil {
					return err
				}
				out := s.client.CheckBlacklist(ctx)
				if err := report(c, out); err != nil {
					return err
				}
				if out.Kind == keyauth.KindSuccess {
					fmt.Fprintf(c.App.Writer, "blacklisted: %s\n", out.Message)
					return cli.Exit("this machine is blacklisted", exitFailure)
				}
				fmt.Fprintln(c.App.Writer, "not blacklisted")
				return nil
			})
		},
	}
}

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "Download an application file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file-id",
				Usage:    "Id of the file to download",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Usage:    "Destination path",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			return withSession(c, false, func(ctx context.Context, s *session) error {
				if err := s.initialize(ctx, c); err != nil {
					return err
				}
				out, err := s.client.DownloadFile(ctx, c.String("file-id"), c.String("out"))
				if err != nil {
					return cli.Exit(err.Error(), exitFailure)
				}
				if err := report(c, out); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "saved %s\n", c.String("out"))
				return nil
			})
		},
	}
}

func logCommand() *cli.Command {
	return &cli.Command{
		Name:  "log",
		Usage: "Send a log line to the application's log",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "message",
				Aliases:  []string{"m"},
				Usage:    "Log message",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			return withSession(c, false, func(ctx context.Context, s *session) error {
				if err := s.initialize(ctx, c); err != nil {
					return err
				}
				return report(c, s.client.Log(ctx, c.String("message")))
			})
		},
	}
}

func banCommand() *cli.Command {
	return &cli.Command{
		Name:  "ban",
		Usage: "Log in, then ban the account and this machine",
		Flags: credentialFlags(),
		Action: func(c *cli.Context) error {
			return withSession(c, false, func(ctx context.Context, s *session) error {
				if err := s.login(ctx, c); err != nil {
					return err
				}
				if err := report(c, s.client.Ban(ctx)); err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, "banned")
				return nil
			})
		},
	}
}

func sealSecretCommand() *cli.Command {
	return &cli.Command{
		Name:  "seal-secret",
		Usage: "Encrypt the app secret for the configuration file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "secret",
				Usage:    "App secret to seal",
				EnvVars:  []string{config.EnvPrefix + "_CLIENT_SECRET"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "passphrase",
				Usage:    "Passphrase that opens the sealed value",
				EnvVars:  []string{config.EnvPrefix + "_CLIENT_SECRET_PASSPHRASE"},
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			secret := strings.TrimSpace(c.String("secret"))
			if security.IsSealed(secret) {
				return cli.Exit("secret is already sealed", exitFailure)
			}
			sealed, err := security.SealSecret(secret, c.String("passphrase"), security.DefaultSealConfig())
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			fmt.Fprintln(c.App.Writer, sealed)
			return nil
		},
	}
}
