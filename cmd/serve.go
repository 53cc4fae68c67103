package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tg/roverlink/config"
	"github.com/tg/roverlink/internal/daemon"
	"github.com/tg/roverlink/internal/node"
	"github.com/tg/roverlink/internal/server"
	"github.com/tg/roverlink/internal/util"
)

// NewServeCommand creates the device-side command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the device side: control channels, video streams and status server",
		Long: `Run on the device mounted on the vehicle. Listens for gamepad reports,
sends accel/direction commands to the vehicle controller, streams camera video and
serves a local status page.`,
		Example: `  roverlink serve --peer 192.168.4.1 --mjpeg --input /dev/video0
  roverlink serve --transport tcp --h264 --input lavfi:testsrc=size=320x240:rate=30
  roverlink serve -d --mjpeg --input /dev/video0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			bindServeFlags(cmd.Flags())
			settings, err := config.Load()
			if err != nil {
				return err
			}
			if detach, _ := cmd.Flags().GetBool("detach"); detach {
				return runDetached(cmd.Context(), settings)
			}
			return runServe(cmd.Context(), settings)
		},
	}

	flags := cmd.Flags()
	flags.String("transport", "", "Inbound control transport: udp or tcp")
	flags.Bool("mjpeg", false, "Stream MJPEG video")
	flags.Bool("h264", false, "Stream H264 video")
	flags.String("input", "", "Video input handed to ffmpeg (device, file, or lavfi:<graph>)")
	flags.Bool("rotation", false, "Steer by device heading posted to /api/orientation")
	flags.String("status-addr", "", "Status server listen address")
	flags.BoolP("detach", "d", false, "Run in the background; stop with 'roverlink stop'")

	return cmd
}

// bindServeFlags is called at run time; relay binds control.transport to its
// own flag and only the running command's binding may win.
func bindServeFlags(flags *pflag.FlagSet) {
	config.BindFlag("control.transport", flags.Lookup("transport"))
	config.BindFlag("features.enable_mjpeg", flags.Lookup("mjpeg"))
	config.BindFlag("features.enable_h264", flags.Lookup("h264"))
	config.BindFlag("video.input", flags.Lookup("input"))
	config.BindFlag("features.control_by_rotation", flags.Lookup("rotation"))
	config.BindFlag("status.addr", flags.Lookup("status-addr"))
}

func runServe(parent context.Context, settings config.Settings) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := daemon.NewManager(settings.Home, settings.StatusAddr)
	if os.Getenv(daemon.EnvDaemon) == "" && mgr.IsRunning(ctx) {
		return daemon.ErrAlreadyRunning
	}
	if err := mgr.WritePID(); err != nil {
		util.GetLogger().Warn("Failed to write PID file", "error", err)
	}
	defer mgr.RemovePID()

	n, err := node.New(settings)
	if err != nil {
		return errors.Wrap(err, "failed to set up device node")
	}
	if err := n.Start(ctx); err != nil {
		n.Stop()
		return err
	}
	defer n.Stop()

	status := n.Status()
	fmt.Printf("%s %s %s\n", color.GreenString("🚀 roverlink device"), color.CyanString("➜"), color.New(color.Bold).Sprint(status.PhoneIP))
	fmt.Printf("   control %s, peer %s\n", color.YellowString(settings.Control.Transport), settings.PeerIP)
	fmt.Printf("   status  %s\n", color.CyanString("http://localhost%s/api/status", settings.StatusAddr))
	fmt.Printf("Press %s to stop...\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))

	srv := server.New(settings.StatusAddr, n)
	if err := srv.Serve(ctx); err != nil {
		util.GetLogger().Error("Status server stopped", "error", err)
		<-ctx.Done()
	}

	util.GetLogger().Info("Shutting down")
	return nil
}

// runDetached re-executes serve without --detach as a background process.
func runDetached(ctx context.Context, settings config.Settings) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mgr := daemon.NewManager(settings.Home, settings.StatusAddr)
	pid, err := mgr.Start(ctx, detachedArgs(os.Args[1:]))
	if err != nil {
		return err
	}

	fmt.Printf("%s (PID %s)\n", color.GreenString("roverlink serve running in background"), color.New(color.Bold).Sprint(pid))
	fmt.Printf("   status %s\n", color.CyanString(daemon.StatusURL(settings.StatusAddr)+"/api/status"))
	fmt.Printf("   log    %s\n", mgr.LogFile())
	return nil
}

func detachedArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		switch a {
		case "-d", "--detach", "--detach=true":
			continue
		}
		out = append(out, a)
	}
	return out
}
