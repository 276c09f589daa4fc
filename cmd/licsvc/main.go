// Command licsvc runs the license issuance and validation service.
package main

import (
	"context"
	"fmt"
	"os"

	"licsvc/internal/app"
	"licsvc/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "licsvc: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	application, err := app.New(cfg)
	if err != nil {
		return err
	}
	return application.Run(context.Background())
}
