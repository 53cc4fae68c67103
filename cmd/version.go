package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tg/roverlink/internal/version"
)

// NewVersionCommand prints build information.
func NewVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Info()
			if asJSON {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			label := color.New(color.Faint).SprintFunc()
			fmt.Printf("%s %s\n", color.New(color.Bold).Sprint("roverlink"), info["Version"])
			fmt.Printf("%s %s\n", label("Protocol:  "), info["ProtocolVersion"])
			fmt.Printf("%s %s\n", label("Commit:    "), info["GitCommit"])
			fmt.Printf("%s %s\n", label("Built:     "), info["FormattedTime"])
			fmt.Printf("%s %s %s/%s\n", label("Go:        "), info["GoVersion"], info["OS"], info["Arch"])
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
