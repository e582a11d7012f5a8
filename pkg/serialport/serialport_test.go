package serialport

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/etee.go/pkg/comm"
)

func TestTimeoutIsRecognized(t *testing.T) {
	require.True(t, comm.IsTimeout(ErrTimeout))
	require.False(t, comm.IsTimeout(ErrClosed))
}

func TestOpenMissingPort(t *testing.T) {
	_, err := Open(Config{Name: "/dev/etee-does-not-exist"})
	require.Error(t, err)

	rw, err := Opener(Config{Name: "/dev/etee-does-not-exist"})()
	require.Error(t, err)
	require.Nil(t, rw)
}

func TestClosedPort(t *testing.T) {
	p := &Port{name: "test"}
	_, err := p.Read(make([]byte, 1))
	require.Equal(t, ErrClosed, err)
	_, err = p.Write([]byte("x"))
	require.Equal(t, ErrClosed, err)
	require.NoError(t, p.Close())
	require.Equal(t, "test", p.Name())
}

type fakePort struct {
	delay time.Duration
	err   error
	data  []byte
}

func (f *fakePort) Read(b []byte) (int, error) {
	time.Sleep(f.delay)
	if len(f.data) > 0 {
		n := copy(b, f.data)
		f.data = f.data[n:]
		return n, nil
	}
	return 0, f.err
}

func (f *fakePort) Write(b []byte) (int, error) { return len(b), nil }
func (f *fakePort) Close() error                { return nil }

func TestEmptyReads(t *testing.T) {
	const timeout = 40 * time.Millisecond
	buf := make([]byte, 8)

	// unplugged: empty reads return at once.
	p := newPort("unplugged", &fakePort{err: io.EOF}, timeout)
	_, err := p.Read(buf)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.False(t, comm.IsTimeout(err))

	p = newPort("unplugged", &fakePort{}, timeout)
	_, err = p.Read(buf)
	require.ErrorIs(t, err, ErrHangup)
	require.False(t, comm.IsTimeout(err))

	// idle: empty reads wait out the timeout.
	p = newPort("idle", &fakePort{delay: timeout, err: io.EOF}, timeout)
	_, err = p.Read(buf)
	require.Equal(t, ErrTimeout, err)
	require.True(t, comm.IsTimeout(err))

	p = newPort("busy", &fakePort{data: []byte("OK\r\n")}, timeout)
	n, err := p.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "OK\r\n", string(buf[:n]))
}
