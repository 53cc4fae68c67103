package protocol

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Kind is the tag carried in the first byte of every control frame.
type Kind uint8

const (
	// KindGamepad marks a gamepad report relayed from the operator's controller.
	KindGamepad Kind = 0
	// KindRemote marks an accel/direction command from the operator device.
	KindRemote Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindGamepad:
		return "gamepad"
	case KindRemote:
		return "remote"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Axis values on the wire are clamped into this range.
const (
	AxisMin = -100
	AxisMax = 100
)

// Byte offsets of a gamepad report. Offsets 3 and 4 carry the right stick,
// 7 the button bitmask; receivers that only drive a vehicle ignore them.
const (
	OffsetLeftX        = 1
	OffsetLeftY        = 2
	OffsetRightX       = 3
	OffsetRightY       = 4
	OffsetLeftTrigger  = 5
	OffsetRightTrigger = 6
	OffsetButtons      = 7
)

const (
	// MaxFrameSize is the receive buffer size used by both control channels.
	MaxFrameSize = 64

	// RemoteFrameSize is tag + accel + direction.
	RemoteFrameSize = 3
	// GamepadFrameSize is the minimum gamepad report: tag through right trigger.
	GamepadFrameSize = OffsetRightTrigger + 1
	// GamepadReportSize is a full report including the button byte.
	GamepadReportSize = OffsetButtons + 1
)

// Button bits in the gamepad report button byte.
const (
	ButtonA uint8 = 1 << iota
	ButtonB
	ButtonX
	ButtonY
)

// ErrMalformedFrame is returned when a buffer is too short for its tag.
var ErrMalformedFrame = errors.New("malformed control frame")

// ControlFrame is one decoded control or telemetry packet.
type ControlFrame struct {
	Kind Kind
	Axes []int8
}

// Axis returns the value at a wire offset (1-based, as in the report layout)
// and whether the frame is long enough to carry it.
func (f ControlFrame) Axis(offset int) (int8, bool) {
	i := offset - 1
	if i < 0 || i >= len(f.Axes) {
		return 0, false
	}
	return f.Axes[i], true
}

// Clamp limits v to the wire axis range.
func Clamp(v int) int8 {
	if v < AxisMin {
		return AxisMin
	}
	if v > AxisMax {
		return AxisMax
	}
	return int8(v)
}

// EncodeControl builds a frame of 1+len(axes) bytes: the kind tag followed by
// every axis value clamped to [-100, 100].
func EncodeControl(kind Kind, axes ...int) []byte {
	buf := make([]byte, 1+len(axes))
	buf[0] = byte(kind)
	for i, a := range axes {
		buf[1+i] = byte(Clamp(a))
	}
	return buf
}

// EncodeRemote builds the 3-byte operator command.
func EncodeRemote(accel, direction int) []byte {
	return EncodeControl(KindRemote, accel, direction)
}

// minFrameSize is the shortest buffer accepted for a tag. Unknown tags only
// need the tag itself; the dispatcher ignores them.
func minFrameSize(kind Kind) int {
	switch kind {
	case KindGamepad:
		return GamepadFrameSize
	case KindRemote:
		return RemoteFrameSize
	default:
		return 1
	}
}

// DecodeControl interprets buf as a control frame. Axis bytes are taken as
// signed 8-bit values without range checks.
func DecodeControl(buf []byte) (ControlFrame, error) {
	if len(buf) == 0 {
		return ControlFrame{}, errors.Wrap(ErrMalformedFrame, "empty buffer")
	}

	kind := Kind(buf[0])
	if need := minFrameSize(kind); len(buf) < need {
		return ControlFrame{}, errors.Wrapf(ErrMalformedFrame, "%s frame needs %d bytes, got %d", kind, need, len(buf))
	}

	axes := make([]int8, len(buf)-1)
	for i, b := range buf[1:] {
		axes[i] = int8(b)
	}
	return ControlFrame{Kind: kind, Axes: axes}, nil
}

// RemoteCommand is the decoded form of a KindRemote frame.
type RemoteCommand struct {
	Accel     int8
	Direction int8
}

// Remote extracts the accel/direction pair from a KindRemote frame.
func (f ControlFrame) Remote() (RemoteCommand, bool) {
	if f.Kind != KindRemote || len(f.Axes) < 2 {
		return RemoteCommand{}, false
	}
	return RemoteCommand{Accel: f.Axes[0], Direction: f.Axes[1]}, true
}

// GamepadReport is the full controller state sent by a relay.
type GamepadReport struct {
	LeftX        int8
	LeftY        int8
	RightX       int8
	RightY       int8
	LeftTrigger  int8
	RightTrigger int8
	Buttons      uint8
}

// Encode serializes the report as an 8-byte gamepad frame.
func (r GamepadReport) Encode() []byte {
	buf := EncodeControl(KindGamepad,
		int(r.LeftX), int(r.LeftY),
		int(r.RightX), int(r.RightY),
		int(r.LeftTrigger), int(r.RightTrigger),
		0)
	buf[OffsetButtons] = r.Buttons
	return buf
}

// Gamepad extracts a report from a KindGamepad frame. The button byte is
// optional and reads as zero when absent.
func (f ControlFrame) Gamepad() (GamepadReport, bool) {
	if f.Kind != KindGamepad || len(f.Axes) < GamepadFrameSize-1 {
		return GamepadReport{}, false
	}
	r := GamepadReport{
		LeftX:        f.Axes[OffsetLeftX-1],
		LeftY:        f.Axes[OffsetLeftY-1],
		RightX:       f.Axes[OffsetRightX-1],
		RightY:       f.Axes[OffsetRightY-1],
		LeftTrigger:  f.Axes[OffsetLeftTrigger-1],
		RightTrigger: f.Axes[OffsetRightTrigger-1],
	}
	if b, ok := f.Axis(OffsetButtons); ok {
		r.Buttons = uint8(b)
	}
	return r, true
}

// AxisFromFloat scales a controller axis in [-1, 1] to the wire range.
func AxisFromFloat(f float64) int8 {
	if math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		f = 1
	}
	if f < -1 {
		f = -1
	}
	return int8(math.Round(f * AxisMax))
}

// PackButtons folds the face buttons into the report bitmask.
func PackButtons(a, b, x, y bool) uint8 {
	var out uint8
	if a {
		out |= ButtonA
	}
	if b {
		out |= ButtonB
	}
	if x {
		out |= ButtonX
	}
	if y {
		out |= ButtonY
	}
	return out
}
