package sh

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/etee.go/pkg/comm"
	"github.com/robotalks/etee.go/pkg/etee"
)

// FormatPose prints the orientation of a snapshot, angles in degrees.
func FormatPose(s etee.Snapshot) string {
	if !s.On {
		return fmt.Sprintf("%-5s off", s.Hand)
	}
	e := s.Euler.Degrees()
	q := s.Quaternion
	return fmt.Sprintf("%-5s #%d q=(%.4f, %.4f, %.4f, %.4f) roll=%.1f pitch=%.1f yaw=%.1f",
		s.Hand, s.FrameNo, q[0], q[1], q[2], q[3], e.Roll, e.Pitch, e.Yaw)
}

// FormatValues prints the widget values of a snapshot sorted by name.
func FormatValues(s etee.Snapshot) string {
	names := make([]string, 0, len(s.Values))
	for name := range s.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, len(names))
	for n, name := range names {
		lines[n] = fmt.Sprintf("%s: %v", name, s.Values[name])
	}
	return strings.Join(lines, "\n")
}

// ParseCommand converts a shell argument to a dongle command, appending
// CRLF. Escapes \r and \n are recognized.
func ParseCommand(args []string) string {
	cmd := strings.Join(args, " ")
	cmd = strings.NewReplacer(`\r`, "\r", `\n`, "\n").Replace(cmd)
	if !strings.HasSuffix(cmd, "\r\n") {
		cmd += "\r\n"
	}
	return cmd
}

// selectHands parses an optional hand argument, both hands by default.
func selectHands(args []string) ([]etee.Hand, error) {
	if len(args) == 0 {
		return etee.Hands, nil
	}
	hand, err := etee.ParseHand(args[0])
	if err != nil {
		return nil, err
	}
	return []etee.Hand{hand}, nil
}

var (
	// ConnectCmd opens the dongle.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[PORT]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) > 0 {
				s.Config.Serial.Name = c.Args[0]
			}
			if err := s.Connect(); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd closes the dongle.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// SendCmd sends a raw command and prints the response.
	SendCmd = ishell.Cmd{
		Name: "send",
		Help: "COMMAND, e.g. send AT+AB",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) == 0 {
				c.Err(fmt.Errorf("COMMAND required"))
				return
			}
			s := ShellFrom(c)
			resp, err := s.Ctrl.Send(comm.NewRequest(ParseCommand(c.Args)))
			if err != nil {
				c.Err(err)
				return
			}
			s.Print(c, map[string]interface{}{
				"response": resp.String(),
				"complete": resp.Complete,
			}, strings.TrimRight(resp.String(), "\r\n"))
		}),
	}

	// StartCmd starts streaming.
	StartCmd = ishell.Cmd{
		Name: "start",
		Help: "start data streaming",
		Func: MustBeConnected(func(c *ishell.Context) {
			if err := ShellFrom(c).Ctrl.StartData(); err != nil {
				c.Err(err)
			}
		}),
	}

	// StopCmd stops streaming.
	StopCmd = ishell.Cmd{
		Name: "stop",
		Help: "stop data streaming",
		Func: MustBeConnected(func(c *ishell.Context) {
			if err := ShellFrom(c).Ctrl.StopData(); err != nil {
				c.Err(err)
			}
		}),
	}

	// VersionsCmd prints firmware versions.
	VersionsCmd = ishell.Cmd{
		Name:    "versions",
		Aliases: []string{"ver"},
		Help:    "firmware versions of the dongle and controllers",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			dongle, err := s.Ctrl.DongleVersion()
			if err != nil && err != etee.ErrNoVersion {
				c.Err(err)
				return
			}
			vers, err := s.Ctrl.ControllerVersions()
			if err != nil {
				c.Err(err)
				return
			}
			s.Print(c, map[string]string{
				"dongle": dongle,
				"left":   vers[etee.Left],
				"right":  vers[etee.Right],
			}, fmt.Sprintf("dongle: %s\nleft:   %s\nright:  %s", dongle, vers[etee.Left], vers[etee.Right]))
		}),
	}

	// OffsetsCmd updates IMU offsets from the controllers.
	OffsetsCmd = ishell.Cmd{
		Name: "offsets",
		Help: "update gyroscope and magnetometer offsets",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			if s.Interactive {
				c.Println("Updating gyro and magnetometer offsets, please wait...")
			}
			if err := s.Ctrl.UpdateIMUOffsets(context.Background()); err != nil {
				c.Err(err)
				return
			}
			for _, hand := range etee.Hands {
				gyro, mag := s.Ctrl.Filter(hand).Offsets()
				c.Printf("%-5s gyro=%v mag=%v\n", hand, gyro, mag)
			}
		}),
	}

	// PoseCmd prints orientations.
	PoseCmd = ishell.Cmd{
		Name:    "pose",
		Aliases: []string{"p"},
		Help:    "[left|right]",
		Func: MustBeConnected(func(c *ishell.Context) {
			hands, err := selectHands(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			s := ShellFrom(c)
			for _, hand := range hands {
				snap := s.Ctrl.Snapshot(hand)
				snap.Values = nil
				s.Print(c, snap, FormatPose(snap))
			}
		}),
	}

	// GetCmd prints widget values.
	GetCmd = ishell.Cmd{
		Name: "get",
		Help: "left|right [WIDGET...]",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) == 0 {
				c.Err(fmt.Errorf("HAND required"))
				return
			}
			hand, err := etee.ParseHand(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			s := ShellFrom(c)
			snap := s.Ctrl.Snapshot(hand)
			if !snap.On {
				c.Err(fmt.Errorf("%s hand is off", hand))
				return
			}
			if keys := c.Args[1:]; len(keys) > 0 {
				values := make(map[string]interface{}, len(keys))
				for _, key := range keys {
					v, ok := snap.Values[key]
					if !ok {
						c.Err(fmt.Errorf("unknown widget %q", key))
						return
					}
					values[key] = v
				}
				snap.Values = values
			}
			s.Print(c, snap.Values, FormatValues(snap))
		}),
	}

	// AbsoluteCmd switches the orientation mode.
	AbsoluteCmd = ishell.Cmd{
		Name: "absolute",
		Help: "[on|off]",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) > 0 {
				switch strings.ToLower(c.Args[0]) {
				case "on", "true", "1":
					s.Ctrl.SetAbsolute(true)
				case "off", "false", "0":
					s.Ctrl.SetAbsolute(false)
				default:
					c.Err(fmt.Errorf("expecting on or off"))
					return
				}
			}
			s.Print(c, map[string]bool{"absolute": s.Ctrl.Absolute()},
				fmt.Sprintf("absolute: %v", s.Ctrl.Absolute()))
		}),
	}
)
