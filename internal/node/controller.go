package node

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/tg/roverlink/internal/pipeline"
	"github.com/tg/roverlink/internal/protocol"
	"github.com/tg/roverlink/internal/util"
)

// azimuthOffset and directionCenter map a heading in degrees to the
// direction axis: a device held at 10 degrees steers straight.
const (
	azimuthOffset   = 10
	directionCenter = 90
)

// DirectionFromAzimuth converts a device heading to a direction value. The
// result is clamped by the frame encoder, not here.
func DirectionFromAzimuth(azimuth float64) int {
	return int(math.Round(azimuth-azimuthOffset)) + directionCenter
}

// ControlSender transmits one accel/direction command.
type ControlSender interface {
	SendControl(accel, direction int) error
}

// RotationProvider supplies the device heading in degrees.
type RotationProvider interface {
	Azimuth() (float64, bool)
}

// Command is the last accel/direction pair sent.
type Command struct {
	Accel     int   `json:"accel"`
	Direction int   `json:"direction"`
	Sent      int64 `json:"sent"`
	Failed    int64 `json:"failed"`
}

// Controller sends the operator's accel/direction to the peer at a fixed
// rate. With a rotation provider set, direction follows the device heading
// and the manual direction is ignored.
type Controller struct {
	sender   ControlSender
	rotation RotationProvider
	interval time.Duration
	clock    clock.Clock

	accel     atomic.Int32
	direction atomic.Int32
	sent      atomic.Int64
	failed    atomic.Int64

	updates *pipeline.Broadcaster[Command]
}

// NewController creates a controller. rotation may be nil.
func NewController(sender ControlSender, rotation RotationProvider, interval time.Duration, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Controller{
		sender:   sender,
		rotation: rotation,
		interval: interval,
		clock:    clk,
		updates:  pipeline.NewBroadcaster[Command]("control"),
	}
}

// SetInput records the operator's latest values, clamped to the wire range.
func (c *Controller) SetInput(accel, direction int) {
	c.accel.Store(int32(protocol.Clamp(accel)))
	c.direction.Store(int32(protocol.Clamp(direction)))
}

// Run sends one command per interval until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	logger := util.GetLogger()
	logger.Info("Control sender started", "interval", c.interval, "by_rotation", c.rotation != nil)

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Control sender stopped", "sent", c.sent.Load(), "failed", c.failed.Load())
			return
		case <-ticker.C():
			c.Tick()
		}
	}
}

// Tick sends the current command once and publishes it.
func (c *Controller) Tick() {
	accel := int(c.accel.Load())
	direction := int(c.direction.Load())
	if c.rotation != nil {
		if az, ok := c.rotation.Azimuth(); ok {
			direction = DirectionFromAzimuth(az)
		}
	}

	if err := c.sender.SendControl(accel, direction); err != nil {
		c.failed.Add(1)
		util.GetLogger().Debug("Control send failed", "error", err)
	} else {
		c.sent.Add(1)
	}

	c.updates.Publish(Command{
		Accel:     int(protocol.Clamp(accel)),
		Direction: int(protocol.Clamp(direction)),
		Sent:      c.sent.Load(),
		Failed:    c.failed.Load(),
	})
}

// Last returns the most recently sent command.
func (c *Controller) Last() Command {
	cmd, _ := c.updates.Latest()
	return cmd
}

// Updates exposes the command feed.
func (c *Controller) Updates() *pipeline.Broadcaster[Command] {
	return c.updates
}

// Heading is a RotationProvider fed from outside, e.g. by the status API.
type Heading struct {
	bits atomic.Uint64
	set  atomic.Bool
}

// Set stores a heading in degrees.
func (h *Heading) Set(azimuth float64) {
	h.bits.Store(math.Float64bits(azimuth))
	h.set.Store(true)
}

// Azimuth implements RotationProvider.
func (h *Heading) Azimuth() (float64, bool) {
	if !h.set.Load() {
		return 0, false
	}
	return math.Float64frombits(h.bits.Load()), true
}
