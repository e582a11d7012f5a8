package sh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/etee.go/pkg/etee"
	"github.com/robotalks/etee.go/pkg/quat"
)

func TestFormatPose(t *testing.T) {
	require.Equal(t, "left  off", FormatPose(etee.Snapshot{Hand: "left"}))
	s := etee.Snapshot{
		Hand:       "right",
		On:         true,
		FrameNo:    7,
		LastSeen:   time.Now(),
		Quaternion: [4]float64{1, 0, 0, 0},
		Euler:      quat.Euler{Roll: 0, Pitch: 0, Yaw: 0},
	}
	require.Equal(t,
		"right #7 q=(1.0000, 0.0000, 0.0000, 0.0000) roll=0.0 pitch=0.0 yaw=0.0",
		FormatPose(s))
}

func TestFormatValues(t *testing.T) {
	s := etee.Snapshot{Values: map[string]interface{}{
		"trackpad_x": int64(3),
		"index_pull": int64(77),
	}}
	require.Equal(t, "index_pull: 77\ntrackpad_x: 3", FormatValues(s))
}

func TestParseCommand(t *testing.T) {
	require.Equal(t, "AT+AB\r\n", ParseCommand([]string{"AT+AB"}))
	require.Equal(t, "BP+AB\r\n", ParseCommand([]string{`BP+AB\r\n`}))
	require.Equal(t, "A B\r\n", ParseCommand([]string{"A", "B"}))
}

func TestSelectHands(t *testing.T) {
	hands, err := selectHands(nil)
	require.NoError(t, err)
	require.Equal(t, etee.Hands, hands)
	hands, err = selectHands([]string{"R"})
	require.NoError(t, err)
	require.Equal(t, []etee.Hand{etee.Right}, hands)
	_, err = selectHands([]string{"x"})
	require.Error(t, err)
}
