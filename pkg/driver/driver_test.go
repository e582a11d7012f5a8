package driver

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/etee.go/pkg/comm"
	"github.com/robotalks/etee.go/pkg/comm/commtest"
	"github.com/robotalks/etee.go/pkg/widget"
)

var testSchema = widget.MustSchema(3, 2,
	widget.ByteField("hand", 0, false),
	widget.CombinedField("value", true, 1, 2),
)

func testFrame(hand byte, value int16) []byte {
	return []byte{hand, byte(value), byte(uint16(value) >> 8), 0xff, 0xff}
}

type event struct {
	kind    string
	frameNo int64
	frame   widget.Frame
	raw     []byte
	err     error
}

type testEnv struct {
	t      *testing.T
	tr     *commtest.Transport
	d      *Driver
	events chan event
}

func newTestEnv(t *testing.T, readTimeout bool) *testEnv {
	conf := DefaultConfig()
	conf.ReadTimeout = 50 * time.Millisecond
	conf.FaultBackoff = 10 * time.Millisecond
	conf.TransportTimeout = readTimeout
	env := &testEnv{
		t:      t,
		tr:     commtest.New(readTimeout),
		d:      New(testSchema, conf),
		events: make(chan event, 1024),
	}
	env.d.AddDataHandler(HandleDataFunc(func(frameNo int64, frame widget.Frame) {
		env.events <- event{kind: "data", frameNo: frameNo, frame: frame}
	}))
	env.d.AddPrintHandler(HandlePrintFunc(func(line []byte) {
		env.events <- event{kind: "print", raw: line}
	}))
	env.d.AddFaultHandler(HandleFaultFunc(func(err error) {
		env.events <- event{kind: "fault", err: err}
	}))
	env.d.AddRestHandler(HandleRestFunc(func(raw []byte) {
		if raw != nil {
			env.events <- event{kind: "rest", raw: raw}
		}
	}))
	env.d.Connect(env.tr)
	return env
}

func (e *testEnv) start() *testEnv {
	require.NoError(e.t, e.d.Start())
	return e
}

func (e *testEnv) stop() {
	e.d.Stop()
	select {
	case <-e.d.Done():
	case <-time.After(time.Second):
		e.t.Fatal("loop didn't stop")
	}
	e.d.Disconnect()
}

func (e *testEnv) expect(kind string) event {
	for {
		select {
		case ev := <-e.events:
			if ev.kind == kind {
				return ev
			}
		case <-time.After(2 * time.Second):
			e.t.Fatalf("expect %s timeout", kind)
			return event{}
		}
	}
}

func TestDispatch(t *testing.T) {
	for _, readTimeout := range []bool{false, true} {
		env := newTestEnv(t, readTimeout).start()
		require.Equal(t, int64(-1), env.d.FrameNo())

		env.tr.Feed(testFrame(1, -300), []byte("R connection complete\r\n"), testFrame(0, 42))
		ev := env.expect("data")
		require.Equal(t, int64(0), ev.frameNo)
		require.Equal(t, int64(1), ev.frame["hand"].Int)
		require.Equal(t, int64(-300), ev.frame["value"].Int)

		ev = env.expect("print")
		require.Equal(t, []byte("R connection complete\r\n"), ev.raw)

		ev = env.expect("data")
		require.Equal(t, int64(1), ev.frameNo)
		require.Equal(t, int64(42), ev.frame["value"].Int)
		require.Equal(t, int64(1), env.d.FrameNo())
		require.Equal(t, int64(0), env.d.CurrentFrame()["hand"].Int)
		require.True(t, env.d.IsAlive())
		env.stop()
	}
}

func TestBinaryThenText(t *testing.T) {
	env := newTestEnv(t, false).start()
	defer env.stop()
	// the text line follows the end marker without any gap.
	env.tr.Feed(testFrame(0, 1), []byte("L disconnected\r\n"))
	ev := env.expect("data")
	require.Equal(t, int64(1), ev.frame["value"].Int)
	ev = env.expect("print")
	require.Equal(t, []byte("L disconnected\r\n"), ev.raw)
}

func TestPartialRead(t *testing.T) {
	env := newTestEnv(t, false).start()
	defer env.stop()
	env.tr.FeedString("garbage")
	ev := env.expect("rest")
	require.Equal(t, []byte("garbage"), ev.raw)
}

func TestSendCommand(t *testing.T) {
	env := newTestEnv(t, false).start()
	defer env.stop()

	env.tr.Feed(testFrame(1, 5))
	env.expect("data")

	var stateDuringCommand State
	env.tr.OnWrite = func(tr *commtest.Transport, p []byte) {
		stateDuringCommand = env.d.State()
		// streaming data right behind the response must not be consumed by
		// the command.
		tr.Feed([]byte("OK\r\nNRF1.0\r\nEND\r\n"), testFrame(1, 6))
	}
	resp, err := env.d.SendCommand(comm.NewRequest("AT+AB\r\n"))
	require.NoError(t, err)
	require.True(t, resp.Complete)
	require.Equal(t, "OK\r\nNRF1.0\r\nEND\r\n", resp.String())
	require.Equal(t, Sleeping, stateDuringCommand)
	require.Equal(t, []byte("AT+AB\r\n"), env.tr.Written())

	ev := env.expect("data")
	require.Equal(t, int64(6), ev.frame["value"].Int)
	require.Eventually(t, func() bool { return env.d.State() == Running }, time.Second, time.Millisecond)
}

func TestSendCommandWriteFailure(t *testing.T) {
	env := newTestEnv(t, false).start()
	defer env.stop()

	fault := errors.New("write failed")
	env.tr.SetWriteError(fault)
	resp, err := env.d.SendCommand(comm.NewRequest("BP+AG\r\n"))
	require.Nil(t, resp)
	require.True(t, errors.Is(err, ErrNoResponse))
	require.True(t, errors.Is(err, fault))

	// the loop resumes.
	require.Eventually(t, func() bool { return env.d.State() == Running }, time.Second, time.Millisecond)
	env.tr.Feed(testFrame(0, 7))
	ev := env.expect("data")
	require.Equal(t, int64(7), ev.frame["value"].Int)

	env.tr.SetWriteError(nil)
	env.tr.OnWrite = func(tr *commtest.Transport, p []byte) {
		tr.FeedString("OK\r\nEND\r\n")
	}
	_, err = env.d.SendCommand(comm.NewRequest("BP+AG\r\n"))
	require.NoError(t, err)
}

func TestSendCommandNotConnected(t *testing.T) {
	d := New(testSchema, Config{})
	_, err := d.SendCommand(comm.NewRequest("BP+AG\r\n"))
	require.True(t, errors.Is(err, ErrNoResponse))
	require.True(t, errors.Is(err, comm.ErrNotOpen))
}

func TestSendCommandBusy(t *testing.T) {
	conf := DefaultConfig()
	conf.ReadTimeout = 300 * time.Millisecond
	conf.SleepTimeout = 30 * time.Millisecond
	tr := commtest.New(false)
	d := New(testSchema, conf)
	d.Connect(tr)
	require.NoError(t, d.Start())
	defer d.Disconnect()

	// wait for the loop to be blocked in a read.
	time.Sleep(20 * time.Millisecond)
	_, err := d.SendCommand(comm.NewRequest("BP+AG\r\n"))
	require.True(t, errors.Is(err, ErrNoResponse))
	require.True(t, errors.Is(err, ErrBusy))
	require.Empty(t, tr.Written())
	require.Eventually(t, func() bool { return d.State() == Running }, time.Second, time.Millisecond)
}

func TestConcurrentCommands(t *testing.T) {
	env := newTestEnv(t, false).start()
	defer env.stop()
	env.tr.OnWrite = func(tr *commtest.Transport, p []byte) {
		tr.Feed(append([]byte("OK\r\n"), append(p, []byte("END\r\n")...)...))
	}
	var wg sync.WaitGroup
	cmds := []string{"BL+gf\r\n", "BR+gf\r\n", "BL+mf\r\n", "BR+mf\r\n"}
	responses := make([]string, len(cmds))
	errs := make([]error, len(cmds))
	for n, cmd := range cmds {
		wg.Add(1)
		go func(n int, cmd string) {
			defer wg.Done()
			resp, err := env.d.SendCommand(comm.NewRequest(cmd))
			responses[n], errs[n] = resp.String(), err
		}(n, cmd)
	}
	wg.Wait()
	for n, cmd := range cmds {
		require.NoError(t, errs[n])
		require.Equal(t, "OK\r\n"+cmd+"END\r\n", responses[n])
	}
}

func TestFaultKeepsLoopRunning(t *testing.T) {
	env := newTestEnv(t, true).start()
	defer env.stop()

	fault := errors.New("device unplugged")
	env.tr.SetReadError(fault)
	ev := env.expect("fault")
	require.Equal(t, fault, ev.err)
	require.Equal(t, Running, env.d.State())

	env.tr.SetReadError(nil)
	env.tr.Feed(testFrame(0, 9))
	ev = env.expect("data")
	require.Equal(t, int64(9), ev.frame["value"].Int)
}

func TestSchemaErrorStopsLoop(t *testing.T) {
	// value is declared beyond the payload.
	schema := widget.MustSchema(2, 2, widget.CombinedField("value", false, 1, 2))
	d := New(schema, Config{ReadTimeout: 50 * time.Millisecond})
	tr := commtest.New(false)
	d.Connect(tr)
	tr.Feed([]byte{1, 2, 0xff, 0xff})

	err := d.Run(context.Background())
	require.Error(t, err)
	var rangeErr *widget.RangeError
	require.True(t, errors.As(err, &rangeErr))
	require.Equal(t, "value", rangeErr.Widget)
	require.Equal(t, Stopped, d.State())
	require.Equal(t, err, d.Err())
}

func TestLifecycle(t *testing.T) {
	var states []ConnectionState
	d := New(testSchema, Config{ReadTimeout: 20 * time.Millisecond})
	d.AddConnectionHandler(HandleConnectionFunc(func(s ConnectionState) {
		states = append(states, s)
	}))
	require.Equal(t, Stopped, d.State())
	select {
	case <-d.Done():
	default:
		t.Fatal("Done must be closed before start")
	}

	failure := errors.New("no such port")
	require.Equal(t, failure, d.ConnectWith(func() (io.ReadWriter, error) { return nil, failure }))
	require.False(t, d.IsConnected())
	require.NoError(t, d.ConnectWith(func() (io.ReadWriter, error) { return commtest.New(false), nil }))
	require.True(t, d.IsConnected())

	require.NoError(t, d.Start())
	require.Equal(t, ErrAlreadyRunning, d.Start())
	require.Equal(t, Running, d.State())
	d.Stop()
	<-d.Done()
	require.Equal(t, Stopped, d.State())
	require.NoError(t, d.Err())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	require.Equal(t, context.Canceled, d.Run(ctx))

	require.NoError(t, d.Disconnect())
	require.False(t, d.IsConnected())
	require.Equal(t, []ConnectionState{ConnectFailed, Connected, Disconnected}, states)
}
