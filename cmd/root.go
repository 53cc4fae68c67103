package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tg/roverlink/config"
	"github.com/tg/roverlink/internal/util"
	"github.com/tg/roverlink/internal/version"
)

var (
	verbose    bool
	configFile string

	rootCmd = &cobra.Command{
		Use:   "roverlink",
		Short: "Remote control and video link for a small rover",
		Long: `roverlink connects an operator to a vehicle controller over a local network.
The device side streams camera video and sends drive commands; the operator side
relays a gamepad and views the video.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.InitLogger(verbose)
			util.SetupGlobalLogger()
			if configFile != "" {
				return config.SetConfigFile(configFile)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				fmt.Printf("roverlink version %s, build %s\n", version.Version, version.CommitID)
				return nil
			}
			return cmd.Help()
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default searches ., $HOME/.roverlink, /etc/roverlink)")
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")

	rootCmd.PersistentFlags().String("peer", "", "Peer IP address (overrides peer.ip)")
	config.BindFlag("peer.ip", rootCmd.PersistentFlags().Lookup("peer"))

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewRelayCommand())
	rootCmd.AddCommand(NewViewCommand())
	rootCmd.AddCommand(NewIPCommand())
	rootCmd.AddCommand(NewStopCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
