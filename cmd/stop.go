package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tg/roverlink/config"
	"github.com/tg/roverlink/internal/daemon"
)

// NewStopCommand stops a serve started with --detach.
func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a background serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load()
			if err != nil {
				return err
			}

			pid, err := daemon.NewManager(settings.Home, settings.StatusAddr).Stop()
			if errors.Is(err, daemon.ErrNotRunning) {
				fmt.Println(color.YellowString("roverlink serve is not running"))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s (PID %d)\n", color.GreenString("roverlink serve stopped"), pid)
			return nil
		},
	}
}
