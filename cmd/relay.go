package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tg/roverlink/config"
	"github.com/tg/roverlink/internal/relay"
	"github.com/tg/roverlink/internal/transport/tcp"
	"github.com/tg/roverlink/internal/transport/udp"
	"github.com/tg/roverlink/internal/transport/ws"
	"github.com/tg/roverlink/internal/util"
)

// NewRelayCommand creates the operator-side gamepad relay.
func NewRelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay gamepad polls from stdin to the device",
		Long: `Read controller polls as JSON lines on stdin and send them to the device as
gamepad reports about 30 times per second. Axes are floats in [-1, 1]:

  {"leftX":0.1,"leftY":-0.5,"leftTrigger":-1,"rightTrigger":0.8,"a":true}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.BindFlag("control.transport", cmd.Flags().Lookup("transport"))
			settings, err := config.Load()
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), settings, os.Stdin)
		},
	}

	cmd.Flags().String("transport", "", "Control transport: udp, tcp or ws")
	return cmd
}

func runRelay(parent context.Context, settings config.Settings, in *os.File) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var out io.WriteCloser
	target := ""
	switch settings.Control.Transport {
	case "tcp":
		client := tcp.NewClient(settings.PeerIP, settings.Control.TCPPort)
		if err := client.Connect(ctx); err != nil {
			// Write redials on every tick until the device shows up.
			util.GetLogger().Warn("Device not reachable yet", "error", err)
		}
		out = client
		target = fmt.Sprintf("tcp://%s:%d", settings.PeerIP, settings.Control.TCPPort)
	case "ws":
		target = ws.ControllerURL(settings.PeerIP, settings.Control.WSPort)
		client := ws.NewClient(target)
		if err := client.Connect(ctx); err != nil {
			util.GetLogger().Warn("Vehicle not reachable yet", "error", err)
		}
		out = client
	default:
		sender, err := udp.NewSender(settings.PeerIP, settings.Control.ReceivePort)
		if err != nil {
			return err
		}
		out = sender
		target = "udp://" + sender.RemoteAddr().String()
	}
	defer out.Close()

	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprintln(os.Stderr, color.YellowString("Reading JSON gamepad polls from the terminal; pipe a HID reader into stdin instead."))
	}
	fmt.Printf("%s %s\n", color.GreenString("🎮 relaying to"), color.CyanString(target))

	var reader relay.LineReader
	go func() {
		if err := reader.Run(ctx, in); err != nil {
			util.GetLogger().Warn("Input reader stopped", "error", err)
		}
	}()

	r := relay.New(out, &reader, relay.WithInterval(settings.Control.Interval))
	err := r.Run(ctx)

	snap := r.Stats()
	fmt.Printf("sent %d reports (%d errors), read %d lines (%d invalid)\n", snap.Frames, snap.Errors, reader.Lines(), reader.Invalid())
	return err
}
