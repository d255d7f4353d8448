// Command sipecho is a small SIP user agent built on the transaction engine.
//
// It answers every request it receives with 200 OK, optionally challenging
// requests with digest authentication, and can register itself at a registrar.
// Engine metrics and the transaction list are exposed over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/ghettovoice/sipengine/internal/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "sipecho:", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "sipecho",
		Usage: "answer SIP requests and optionally register at a registrar",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML engine config `FILE`",
				Sources: cli.EnvVars("SIPECHO_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "UDP listen `ADDR`",
				Value:   "127.0.0.1:5060",
				Sources: cli.EnvVars("SIPECHO_LISTEN"),
			},
			&cli.StringFlag{
				Name:    "tcp",
				Usage:   "TCP listen `ADDR`, disabled if empty",
				Sources: cli.EnvVars("SIPECHO_TCP"),
			},
			&cli.StringFlag{
				Name:    "http",
				Usage:   "HTTP `ADDR` serving /metrics, /stats and /transactions, disabled if empty",
				Sources: cli.EnvVars("SIPECHO_HTTP"),
			},
			&cli.StringFlag{
				Name:    "realm",
				Usage:   "challenge requests with digest authentication in `REALM`",
				Sources: cli.EnvVars("SIPECHO_REALM"),
			},
			&cli.StringSliceFlag{
				Name:  "account",
				Usage: "`USER:PASSWORD` accepted in authentication, may be repeated",
			},
			&cli.StringSliceFlag{
				Name:    "methods",
				Usage:   "accepted request `METHOD`s, may be repeated (default INVITE, ACK, BYE, CANCEL, OPTIONS, REGISTER)",
				Sources: cli.EnvVars("SIPECHO_METHODS"),
			},
			&cli.StringFlag{
				Name:  "register",
				Usage: "register at the registrar `URI` on start",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "user name of the registration",
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "password of the registration",
				Sources: cli.EnvVars("SIPECHO_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log `LEVEL`: debug, info, warn or error",
				Value:   "info",
				Sources: cli.EnvVars("SIPECHO_LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "human friendly log output",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			lvl, err := log.Level(cmd.String("log-level"))
			if err != nil {
				return err
			}
			logger := log.New(lvl, cmd.Bool("dev"))
			log.SetDefault(logger)

			accounts := make(map[string]string)
			for _, acc := range cmd.StringSlice("account") {
				user, pass, ok := strings.Cut(acc, ":")
				if !ok || user == "" {
					return fmt.Errorf("invalid account %q", acc)
				}
				accounts[user] = pass
			}

			return run(ctx, &config{
				configFile: cmd.String("config"),
				udpAddr:    cmd.String("listen"),
				tcpAddr:    cmd.String("tcp"),
				httpAddr:   cmd.String("http"),
				realm:      cmd.String("realm"),
				accounts:   accounts,
				methods:    cmd.StringSlice("methods"),
				registrar:  cmd.String("register"),
				user:       cmd.String("user"),
				password:   cmd.String("password"),
				logger:     logger,
			})
		},
	}
}
