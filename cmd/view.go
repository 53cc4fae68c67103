package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tg/roverlink/config"
	"github.com/tg/roverlink/internal/receiver"
	"github.com/tg/roverlink/internal/util"
)

type viewOptions struct {
	codec  string
	port   int
	output string
}

// NewViewCommand creates the operator-side video receiver.
func NewViewCommand() *cobra.Command {
	opts := viewOptions{}

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Receive the device video stream",
		Long: `Receive MJPEG or H264 video from the device, print the frame rate and
optionally save the stream. Saved output plays with ffplay:

  ffplay -f mjpeg out.mjpeg
  ffplay -f h264 out.h264`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load()
			if err != nil {
				return err
			}
			return runView(cmd.Context(), settings, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.codec, "codec", "mjpeg", "Stream codec: mjpeg or h264")
	flags.IntVar(&opts.port, "port", 0, "UDP port (default video.mjpeg_port or video.h264_port)")
	flags.StringVarP(&opts.output, "output", "o", "", "Write the reassembled stream to this file")
	return cmd
}

func runView(parent context.Context, settings config.Settings, opts viewOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := receiver.ParseCodec(opts.codec)
	if err != nil {
		return err
	}

	port := opts.port
	if port == 0 {
		port = settings.Video.MJPEGPort
		if codec == receiver.CodecH264 {
			port = settings.Video.H264Port
		}
	}

	var sink io.Writer
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return errors.Wrapf(err, "failed to create %s", opts.output)
		}
		defer f.Close()
		sink = f
	}

	rx, err := receiver.Listen(port, codec, receiver.Options{Sink: sink})
	if err != nil {
		return err
	}

	fmt.Printf("%s %s on %s\n", color.GreenString("📺 receiving"), color.CyanString(string(codec)), rx.LocalAddr())
	if opts.output != "" {
		fmt.Printf("   saving to %s\n", color.CyanString(opts.output))
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := rx.Stats()
				fmt.Printf("\r%s fps  %d frames  %d packets  %d errors   ",
					color.New(color.Bold).Sprintf("%3d", snap.FPS), snap.Frames, snap.Packets, snap.Errors)
			}
		}
	}()

	err = rx.Run(ctx)
	fmt.Println()
	if err != nil {
		util.GetLogger().Error("Video receiver failed", "error", err)
	}
	return err
}
