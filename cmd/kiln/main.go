package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jbweber/kiln/internal/logging"
	"github.com/jbweber/kiln/internal/output"
	"github.com/jbweber/kiln/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	logLevel     string
	logFormat    string
	outputFormat string
	noHeaders    bool

	log logrus.FieldLogger = logging.Discard()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Kiln - declarative QEMU VM reconciler",
	Long: `Kiln brings a single QEMU virtual machine to a desired state
(absent, present, started or stopped) described in a YAML file.

Every run observes the host from scratch: the process table says whether
the VM is running and the image file says whether it exists. Running the
same spec twice changes nothing the second time.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log = logging.New(logging.Options{Level: logLevel, Format: logFormat})
		return output.ValidateFormat(outputFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, yaml, json)")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false, "omit table headers")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(portCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM so that polling loops end early.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printResult writes res to stdout in the selected format.
func printResult(res *vm.Result) error {
	formatter, err := output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
	if err != nil {
		return err
	}

	out, err := formatter.FormatResult(res)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	fmt.Print(out)
	return nil
}
