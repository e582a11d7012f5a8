package etee

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/etee.go/pkg/ahrs"
	"github.com/robotalks/etee.go/pkg/comm"
	"github.com/robotalks/etee.go/pkg/framework"
)

// Dongle commands.
const (
	CmdStartData     = "BP+AG\r\n"
	CmdStopData      = "BP+AS\r\n"
	CmdDongleVersion = "AT+AB\r\n"
	CmdEteeVersions  = "BP+AB\r\n"
)

// Response keys of CmdEteeVersions.
const (
	KeyVersionLeft  = "L:AB=etee"
	KeyVersionRight = "R:AB=etee"
)

const dongleVersionPrefix = "NRF"

func gyroOffsetCmd(hand Hand) string {
	if hand == Left {
		return "BL+gf\r\n"
	}
	return "BR+gf\r\n"
}

func magOffsetCmd(hand Hand) string {
	if hand == Left {
		return "BL+mf\r\n"
	}
	return "BR+mf\r\n"
}

// Send sends a raw command and returns the response.
func (c *Controller) Send(req comm.Request) (*comm.Response, error) {
	return c.drv.SendCommand(req)
}

// StartData asks the controllers to start streaming.
func (c *Controller) StartData() error {
	_, err := c.drv.SendCommand(comm.NewRequest(CmdStartData))
	return err
}

// StopData asks the controllers to stop streaming.
func (c *Controller) StopData() error {
	_, err := c.drv.SendCommand(comm.NewRequest(CmdStopData))
	return err
}

// UpdateGyroOffset queries the gyroscope calibration stored on the
// controller and applies it to the hand's filter.
func (c *Controller) UpdateGyroOffset(hand Hand) (ahrs.Vector, error) {
	v, err := c.queryOffset(hand, gyroOffsetCmd(hand))
	if err != nil {
		return v, err
	}
	c.hands[hand].filter.SetGyroOffset(v)
	glog.Infof("etee: %s gyro offset %v", hand, v)
	return v, nil
}

// UpdateMagOffset queries the magnetometer calibration stored on the
// controller and applies it to the hand's filter.
func (c *Controller) UpdateMagOffset(hand Hand) (ahrs.Vector, error) {
	v, err := c.queryOffset(hand, magOffsetCmd(hand))
	if err != nil {
		return v, err
	}
	c.hands[hand].filter.SetMagOffset(v)
	glog.Infof("etee: %s mag offset %v", hand, v)
	return v, nil
}

func (c *Controller) queryOffset(hand Hand, cmd string) (ahrs.Vector, error) {
	if !hand.Valid() {
		return ahrs.Vector{}, fmt.Errorf("%w: %d", ErrInvalidHand, int(hand))
	}
	resp, err := c.drv.SendCommand(comm.NewRequest(cmd))
	if err != nil {
		return ahrs.Vector{}, err
	}
	return ParseAxes(resp.Data)
}

// UpdateIMUOffsets waits for the readings to settle and then updates the
// gyroscope and magnetometer offsets of both hands. All four queries are
// attempted, failures are aggregated.
func (c *Controller) UpdateIMUOffsets(ctx context.Context) error {
	if c.conf.OffsetSettle > 0 {
		timer := time.NewTimer(c.conf.OffsetSettle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	var errs framework.AggregatedError
	for _, hand := range Hands {
		if _, err := c.UpdateGyroOffset(hand); err != nil {
			errs.Add(hand.String(), "gyro offset", err)
		}
	}
	for _, hand := range Hands {
		if _, err := c.UpdateMagOffset(hand); err != nil {
			errs.Add(hand.String(), "mag offset", err)
		}
	}
	return errs.Aggregate()
}

// ParseAxes parses `X:<f> Y:<f> Z:<f>` from an offset response.
func ParseAxes(data []byte) (v ahrs.Vector, err error) {
	s := string(data)
	for n, axis := range []string{"X:", "Y:", "Z:"} {
		pos := strings.Index(s, axis)
		if pos < 0 {
			return v, fmt.Errorf("%w: missing %s", ErrMalformedResponse, axis)
		}
		field := s[pos+len(axis):]
		if end := strings.IndexAny(field, " \r\n"); end >= 0 {
			field = field[:end]
		}
		if v[n], err = strconv.ParseFloat(field, 64); err != nil {
			return v, fmt.Errorf("%w: %s %v", ErrMalformedResponse, axis, err)
		}
	}
	return v, nil
}

// DongleVersion queries the firmware version of the dongle.
func (c *Controller) DongleVersion() (string, error) {
	resp, err := c.drv.SendCommand(comm.NewRequest(CmdDongleVersion))
	if err != nil {
		return "", err
	}
	pos := bytes.Index(resp.Data, []byte(dongleVersionPrefix))
	if pos < 0 {
		return "", ErrNoVersion
	}
	ver := resp.Data[pos+len(dongleVersionPrefix):]
	if end := bytes.Index(ver, comm.CRLF); end >= 0 {
		ver = ver[:end]
	}
	return asciiOnly(ver), nil
}

// asciiOnly drops the non-ASCII bytes the dongle sometimes emits around
// its version string.
func asciiOnly(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c < 0x80 {
			out = append(out, c)
		}
	}
	return string(out)
}

// Versions are firmware versions indexed by Hand, empty if not reported.
type Versions [2]string

// ControllerVersions queries the firmware versions of both controllers.
// A missing version is not an error.
func (c *Controller) ControllerVersions() (Versions, error) {
	var vers Versions
	resp, err := c.drv.SendCommand(comm.NewRequest(CmdEteeVersions).
		WithKeys(KeyVersionLeft, KeyVersionRight))
	if err != nil {
		return vers, err
	}
	for hand, key := range map[Hand]string{Left: KeyVersionLeft, Right: KeyVersionRight} {
		if val, ok := resp.Value(key); ok {
			if parts := strings.Split(asciiOnly(val), "-"); len(parts) > 1 {
				vers[hand] = parts[1]
			}
		}
	}
	return vers, nil
}
