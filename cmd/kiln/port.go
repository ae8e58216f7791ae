package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/ports"
)

var portCmd = &cobra.Command{
	Use:   "port",
	Short: "Print a free ephemeral TCP port",
	Long: `Print a TCP port the OS currently considers free.

The port is not reserved: anything may bind it before it is used.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := ports.Allocate()
		if err != nil {
			return fmt.Errorf("failed to allocate port: %w", err)
		}
		fmt.Println(port)
		return nil
	},
}
