// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"codeberg.org/oliverandrich/student-portal/internal/config"
	"codeberg.org/oliverandrich/student-portal/internal/cryptox"
	"codeberg.org/oliverandrich/student-portal/internal/server"
	"codeberg.org/oliverandrich/student-portal/internal/services/auth"
	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v3"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cmd := &cli.Command{
		Name:    "server",
		Usage:   "Student portal account service",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags:   config.Flags(),
		Action:  server.Run,
		Commands: []*cli.Command{
			{
				Name:   "dump-config",
				Usage:  "Print the effective configuration as TOML with secrets redacted",
				Flags:  config.Flags(),
				Action: dumpConfig,
			},
			{
				Name:   "generate-key",
				Usage:  "Print a new base64 encryption key for email addresses at rest",
				Action: generateKey,
			},
			{
				Name:      "hash-password",
				Usage:     "Print the bcrypt hash of a password for admin-password-hash",
				ArgsUsage: "<password>",
				Action:    hashPassword,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func dumpConfig(_ context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	return toml.NewEncoder(cmd.Root().Writer).Encode(cfg.Redacted())
}

func generateKey(_ context.Context, cmd *cli.Command) error {
	key, err := cryptox.GenerateKey()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, key)
	return err
}

func hashPassword(_ context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return cli.Exit("usage: server hash-password <password>", 1)
	}
	hash, err := auth.HashPassword(cmd.Args().First(), 0)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, hash)
	return err
}
