package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetachedArgs(t *testing.T) {
	got := detachedArgs([]string{"serve", "-d", "--mjpeg", "--detach", "--input", "/dev/video0", "--detach=true"})
	assert.Equal(t, []string{"serve", "--mjpeg", "--input", "/dev/video0"}, got)
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "relay", "view", "ip", "stop", "status", "version"} {
		c, _, err := rootCmd.Find([]string{name})
		if assert.NoError(t, err, name) {
			assert.Equal(t, name, c.Name())
		}
	}
}
