package gamepad

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/tg/roverlink/internal/protocol"
)

// Input is one controller poll as produced by an external HID reader.
// Axes are normalized to [-1, 1]; triggers rest at -1.
type Input struct {
	LeftX        float64 `json:"leftX"`
	LeftY        float64 `json:"leftY"`
	RightX       float64 `json:"rightX"`
	RightY       float64 `json:"rightY"`
	LeftTrigger  float64 `json:"leftTrigger"`
	RightTrigger float64 `json:"rightTrigger"`

	A bool `json:"a"`
	B bool `json:"b"`
	X bool `json:"x"`
	Y bool `json:"y"`
}

// Report converts the poll to its wire form.
func (in Input) Report() protocol.GamepadReport {
	return protocol.GamepadReport{
		LeftX:        protocol.AxisFromFloat(in.LeftX),
		LeftY:        protocol.AxisFromFloat(in.LeftY),
		RightX:       protocol.AxisFromFloat(in.RightX),
		RightY:       protocol.AxisFromFloat(in.RightY),
		LeftTrigger:  protocol.AxisFromFloat(in.LeftTrigger),
		RightTrigger: protocol.AxisFromFloat(in.RightTrigger),
		Buttons:      protocol.PackButtons(in.A, in.B, in.X, in.Y),
	}
}

// ParseInput decodes one JSON poll.
func ParseInput(line []byte) (Input, error) {
	in := Input{LeftTrigger: -1, RightTrigger: -1}
	if err := json.Unmarshal(line, &in); err != nil {
		return Input{}, errors.Wrap(err, "invalid gamepad input")
	}
	return in, nil
}
