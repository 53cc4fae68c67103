package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tg/roverlink/internal/transport/udp"
)

// NewIPCommand prints the address the operator should point at.
func NewIPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ip",
		Short: "Print this machine's first non-loopback IPv4 address",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(udp.LocalIPv4())
		},
	}
}
