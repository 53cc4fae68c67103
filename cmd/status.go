package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tg/roverlink/config"
	"github.com/tg/roverlink/internal/daemon"
	"github.com/tg/roverlink/internal/node"
	"github.com/tg/roverlink/internal/util"
)

// NewStatusCommand queries the status server of a running serve.
func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.BindFlag("status.addr", cmd.Flags().Lookup("status-addr"))
			settings, err := config.Load()
			if err != nil {
				return err
			}

			var st node.Status
			if err := daemon.NewManager(settings.Home, settings.StatusAddr).Status(cmd.Context(), &st); err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			printStatus(st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	cmd.Flags().String("status-addr", "", "Status server address of the running serve")
	return cmd
}

func printStatus(st node.Status) {
	label := color.New(color.Faint).SprintFunc()

	fmt.Printf("%s %s\n", label("Device IP: "), color.New(color.Bold).Sprint(st.PhoneIP))
	transport := st.Transport
	if st.TCPState != "" {
		transport += " (" + st.TCPState + ")"
	}
	fmt.Printf("%s %s, %d packets received\n", label("Control:   "), transport, st.PacketsReceived)
	fmt.Printf("%s LT %d  RT %d  LX %d  LY %d\n", label("Gamepad:   "),
		st.Gamepad.LeftTrigger, st.Gamepad.RightTrigger, st.Gamepad.LeftX, st.Gamepad.LeftY)
	fmt.Printf("%s accel %d  direction %d  (sent %d, failed %d)\n", label("Command:   "),
		st.Control.Accel, st.Control.Direction, st.Control.Sent, st.Control.Failed)

	if len(st.Streams) == 0 {
		fmt.Printf("%s %s\n", label("Streams:   "), color.YellowString("none"))
		return
	}

	fmt.Println()
	rows := make([]map[string]any, 0, len(st.Streams))
	for _, s := range st.Streams {
		rows = append(rows, map[string]any{
			"stream":  s.Stream,
			"fps":     color.CyanString("%d", s.FPS),
			"frames":  s.Frames,
			"packets": s.Packets,
			"errors":  s.Errors,
			"dropped": s.Dropped,
		})
	}
	util.RenderTable(os.Stdout, []util.TableColumn{
		{Header: "STREAM", Key: "stream"},
		{Header: "FPS", Key: "fps"},
		{Header: "FRAMES", Key: "frames"},
		{Header: "PACKETS", Key: "packets"},
		{Header: "ERRORS", Key: "errors"},
		{Header: "DROPPED", Key: "dropped"},
	}, rows)
}
