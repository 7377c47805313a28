package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/verticalgw/vertigate/internal/credentials"
)

// authCommand returns the 'auth' subcommand for managing upstream tokens.
func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage upstream auth tokens",
		Commands: []*cli.Command{
			authAddCommand(),
			authListCommand(),
		},
	}
}

func authAddCommand() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Add an upstream auth token to the pool",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "comment",
				Usage: "bookkeeping note stored alongside the token",
			},
		},
		Action: authAddAction,
	}
}

func authListCommand() *cli.Command {
	return &cli.Command{
		Name:   "list",
		Usage:  "Show the upstream token pool size",
		Action: authListAction,
	}
}

// authAddAction reads a token from the terminal with hidden input and
// appends it to the pool file. A running gateway picks the change up via
// hot reload.
func authAddAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	token, err := readSecureInput(ctx, "Enter upstream auth token: ")
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	if err := credentials.Append(cfg.TokensFile, token, cmd.String("comment")); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	fmt.Printf("Token added to %s\n", cfg.TokensFile)
	return nil
}

func authListAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pool := credentials.NewTokenPool()
	if err := pool.Load(cfg.TokensFile); err != nil {
		return fmt.Errorf("failed to load token pool: %w", err)
	}

	fmt.Printf("%d token(s) in %s\n", pool.Len(), cfg.TokensFile)
	return nil
}

// readSecureInput reads user input with hidden display and context cancellation support.
// Goroutine+select pattern required because term.ReadPassword has no native context support.
func readSecureInput(ctx context.Context, prompt string) (string, error) {
	fmt.Print(prompt)
	defer fmt.Println()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}
