package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/trellis/internal/backend"
)

func backendsCmd() *cli.Command {
	return &cli.Command{
		Name:  "backends",
		Usage: "List compiled-in compute backends",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("cpu:     %d cores\n", runtime.NumCPU())
			if backend.Has(backend.CUDA) {
				fmt.Println("cuda:    available")
			} else {
				fmt.Println("cuda:    not compiled in")
			}
			fmt.Printf("default: %s\n", backend.Available())
			return nil
		},
	}
}
