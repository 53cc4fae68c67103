package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.BindEnv("peer.ip", "ROVERLINK_PEER_IP")
	v.BindEnv("control.transport", "ROVERLINK_CONTROL_TRANSPORT")
	v.BindEnv("video.input", "ROVERLINK_VIDEO_INPUT")
	v.BindEnv("status.addr", "ROVERLINK_STATUS_ADDR")
	v.BindEnv("roverlink.home", "ROVERLINK_HOME")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths := []string{
		".",
		"$HOME/.roverlink",
		"/etc/roverlink",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
		// Config file not found; ignore error and use defaults
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("peer.ip", "192.168.4.1")

	v.SetDefault("control.transport", "udp")
	v.SetDefault("control.send_port", 3333)
	v.SetDefault("control.receive_port", 3336)
	v.SetDefault("control.tcp_port", 3334)
	v.SetDefault("control.ws_port", 80)
	v.SetDefault("control.interval", 33*time.Millisecond)

	v.SetDefault("video.mjpeg_port", 3334)
	v.SetDefault("video.h264_port", 3335)
	v.SetDefault("video.mtu", 1300)
	v.SetDefault("video.width", 320)
	v.SetDefault("video.height", 240)
	v.SetDefault("video.bitrate", 500_000)
	v.SetDefault("video.framerate", 30)
	v.SetDefault("video.input", "")
	v.SetDefault("video.queue_size", 16)

	v.SetDefault("features.enable_mjpeg", false)
	v.SetDefault("features.enable_h264", false)
	v.SetDefault("features.control_by_rotation", false)

	v.SetDefault("status.addr", ":28100")

	v.SetDefault("roverlink.home", filepath.Join(xdg.Home, ".roverlink"))
}

// Settings is the resolved configuration handed to constructors.
type Settings struct {
	PeerIP string

	Control ControlSettings
	Video   VideoSettings

	EnableMJPEG       bool
	EnableH264        bool
	ControlByRotation bool

	StatusAddr string
	Home       string
}

// ControlSettings configures the control channels.
type ControlSettings struct {
	// Transport is "udp" or "tcp" and selects the inbound channel. The relay
	// also accepts "ws", a websocket to the vehicle's controller endpoint.
	Transport   string
	SendPort    int
	ReceivePort int
	TCPPort     int
	WSPort      int
	Interval    time.Duration
}

// VideoSettings configures the video streamers.
type VideoSettings struct {
	MJPEGPort int
	H264Port  int
	MTU       int
	Width     int
	Height    int
	Bitrate   int
	Framerate int
	// Input is handed to ffmpeg as-is, e.g. "/dev/video0" or a file path.
	Input     string
	QueueSize int
}

// Load resolves the current configuration.
func Load() (Settings, error) {
	return load(v)
}

func load(v *viper.Viper) (Settings, error) {
	s := Settings{
		PeerIP: v.GetString("peer.ip"),
		Control: ControlSettings{
			Transport:   v.GetString("control.transport"),
			SendPort:    v.GetInt("control.send_port"),
			ReceivePort: v.GetInt("control.receive_port"),
			TCPPort:     v.GetInt("control.tcp_port"),
			WSPort:      v.GetInt("control.ws_port"),
			Interval:    v.GetDuration("control.interval"),
		},
		Video: VideoSettings{
			MJPEGPort: v.GetInt("video.mjpeg_port"),
			H264Port:  v.GetInt("video.h264_port"),
			MTU:       v.GetInt("video.mtu"),
			Width:     v.GetInt("video.width"),
			Height:    v.GetInt("video.height"),
			Bitrate:   v.GetInt("video.bitrate"),
			Framerate: v.GetInt("video.framerate"),
			Input:     v.GetString("video.input"),
			QueueSize: v.GetInt("video.queue_size"),
		},
		EnableMJPEG:       v.GetBool("features.enable_mjpeg"),
		EnableH264:        v.GetBool("features.enable_h264"),
		ControlByRotation: v.GetBool("features.control_by_rotation"),
		StatusAddr:        v.GetString("status.addr"),
		Home:              v.GetString("roverlink.home"),
	}
	return s, s.Validate()
}

// Validate reports the first setting that cannot work.
func (s Settings) Validate() error {
	switch s.Control.Transport {
	case "udp", "tcp", "ws":
	default:
		return errors.Errorf("control.transport must be udp, tcp or ws, got %q", s.Control.Transport)
	}
	if s.Video.MTU <= 0 {
		return errors.Errorf("video.mtu must be positive, got %d", s.Video.MTU)
	}
	if s.Control.Interval <= 0 {
		return errors.Errorf("control.interval must be positive, got %s", s.Control.Interval)
	}
	if s.Video.Framerate <= 0 {
		return errors.Errorf("video.framerate must be positive, got %d", s.Video.Framerate)
	}
	if s.Video.QueueSize <= 0 {
		return errors.Errorf("video.queue_size must be positive, got %d", s.Video.QueueSize)
	}
	return nil
}

// SetConfigFile reads an explicit config file instead of the search paths.
func SetConfigFile(path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	return nil
}

// BindFlag lets a command line flag override a config key.
func BindFlag(key string, flag *pflag.Flag) {
	if flag == nil {
		return
	}
	v.BindPFlag(key, flag)
}

// GetHome returns the roverlink home directory
func GetHome() string {
	return v.GetString("roverlink.home")
}
