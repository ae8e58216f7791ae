package main

import (
	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/vm"
)

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show the observed state of a VM",
	Long: `Show whether a VM is absent, stopped or running, without changing it.

The image path is needed to tell a stopped VM from an absent one; take it
from a spec file or pass --image.

Examples:
  kiln status -f web.yaml
  kiln status web --image /var/lib/kiln/web.qcow2 -o yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			if err := cmd.Flags().Set("name", args[0]); err != nil {
				return err
			}
		}

		spec, err := loadSpec(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		return printResult(vm.NewController(spec, log).Status(ctx, spec))
	},
}

func init() {
	statusCmd.Flags().StringVarP(&specFile, "file", "f", "", "path to the VM spec YAML file")
	addSpecFlags(statusCmd)
}
