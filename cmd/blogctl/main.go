package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Initialize context that cancelled on SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Getenv, os.Getwd, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "blogctl:", err)
		os.Exit(1)
	}
}

// run loads config (flags > env > .env > defaults) and executes the command
func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string, stdout io.Writer) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return fmt.Errorf("error while loading env: %w", err)
	}
	command, err := c.ParseFlags(args)
	if err != nil {
		return err
	}

	app, err := NewApp(ctx, c)
	if err != nil {
		return fmt.Errorf("can't initialize app: %w", err)
	}
	defer app.Close()

	return app.Run(ctx, command, stdout)
}
