package util

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	columns := []TableColumn{
		{Header: "STREAM", Key: "stream"},
		{Header: "FPS", Key: "fps"},
	}
	RenderTable(&buf, columns, nil)
	RenderTable(&buf, columns, []map[string]any{
		{"stream": "mjpeg", "fps": 30},
		{"stream": "h264"},
	})

	want := "STREAM  FPS\n" +
		"------  ---\n" +
		"STREAM  FPS\n" +
		"------  ---\n" +
		"mjpeg   30\n" +
		"h264\n"
	assert.Equal(t, want, buf.String())
}

func TestDisplayWidthIgnoresColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = prev }()

	s := color.GreenString("ok")
	assert.NotEqual(t, len("ok"), len(s))
	assert.Equal(t, 2, displayWidth(s))
	assert.Equal(t, 4, displayWidth(padToWidth(s, 4)))
}
