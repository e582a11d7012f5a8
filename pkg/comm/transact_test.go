package comm

import (
	"errors"
	"testing"
	"time"

	"github.com/robotalks/etee.go/pkg/comm/commtest"
	"github.com/stretchr/testify/require"
)

func respondWith(tr *commtest.Transport, response string) {
	tr.OnWrite = func(t *commtest.Transport, p []byte) {
		t.FeedString(response)
	}
}

func TestTransactBracketed(t *testing.T) {
	forEachMode(t, func(t *testing.T, tr *commtest.Transport, c *Channel) {
		// streaming leftovers before the response are dropped.
		tr.Feed([]byte{1, 2, 0xff, 0xff})
		respondWith(tr, "\r\nOK\r\nNRF1.2.3\r\nEND\r\nX\r\n")

		resp, err := c.Transact(NewRequest("AT+AB\r\n"))
		require.NoError(t, err)
		require.True(t, resp.Complete)
		require.Equal(t, "OK\r\nNRF1.2.3\r\nEND\r\n", resp.String())
		require.Nil(t, resp.Values)
		require.Equal(t, []byte("AT+AB\r\n"), tr.Written())
		// nothing after END is consumed.
		line, err := c.ReadUntil([][]byte{CRLF}, 0, time.Second)
		require.NoError(t, err)
		require.Equal(t, []byte("X\r\n"), line)
	})
}

func TestTransactKeys(t *testing.T) {
	forEachMode(t, func(t *testing.T, tr *commtest.Transport, c *Channel) {
		respondWith(tr, "OK\r\nR:AB=etee-1.4.2\r\nL:AB=etee-1.4.1\r\n")
		req := NewRequest("BP+AB\r\n").WithKeys("R:AB=etee", "L:AB=etee")
		req.End = nil

		resp, err := c.Transact(req)
		require.NoError(t, err)
		require.True(t, resp.Complete)
		val, ok := resp.Value("R:AB=etee")
		require.True(t, ok)
		require.Equal(t, []byte("-1.4.2"), val)
		val, ok = resp.Value("L:AB=etee")
		require.True(t, ok)
		require.Equal(t, []byte("-1.4.1"), val)
	})
}

func TestTransactKeysBackToBack(t *testing.T) {
	forEachMode(t, func(t *testing.T, tr *commtest.Transport, c *Channel) {
		responses := map[string]string{
			// a key line before OK belongs to something else.
			"BP+AB\r\n": "L:AB=etee-0.0.1\r\nOK\r\nL:AB=etee-1.4.1\r\nR:AB=etee-1.4.2\r\nEND\r\n",
			"AT+AB\r\n": "OK\r\nNRF1.2.3\r\nEND\r\n",
		}
		tr.OnWrite = func(t *commtest.Transport, p []byte) {
			t.FeedString(responses[string(p)])
		}
		versions := NewRequest("BP+AB\r\n").WithKeys("R:AB=etee", "L:AB=etee")

		for n := 0; n < 2; n++ {
			resp, err := c.Transact(versions)
			require.NoError(t, err)
			require.True(t, resp.Complete)
			require.Equal(t, "OK\r\nL:AB=etee-1.4.1\r\nR:AB=etee-1.4.2\r\nEND\r\n", resp.String())
			val, _ := resp.Value("L:AB=etee")
			require.Equal(t, []byte("-1.4.1"), val)
			val, _ = resp.Value("R:AB=etee")
			require.Equal(t, []byte("-1.4.2"), val)

			resp, err = c.Transact(NewRequest("AT+AB\r\n"))
			require.NoError(t, err)
			require.True(t, resp.Complete)
			require.Equal(t, "OK\r\nNRF1.2.3\r\nEND\r\n", resp.String())
		}
	})
}

func TestTransactStaleEnd(t *testing.T) {
	forEachMode(t, func(t *testing.T, tr *commtest.Transport, c *Channel) {
		tr.FeedString("END\r\n")
		respondWith(tr, "OK\r\nX:1 Y:2 Z:3\r\nEND\r\n")
		resp, err := c.Transact(NewRequest("BL+gf\r\n"))
		require.NoError(t, err)
		require.True(t, resp.Complete)
		require.Equal(t, "OK\r\nX:1 Y:2 Z:3\r\nEND\r\n", resp.String())
	})
}

func TestTransactMissingKey(t *testing.T) {
	forEachMode(t, func(t *testing.T, tr *commtest.Transport, c *Channel) {
		respondWith(tr, "OK\r\nR:AB=etee-2.0.0\r\n")
		req := NewRequest("BP+AB\r\n").WithKeys("R:AB=etee", "L:AB=etee").WithTimeout(100 * time.Millisecond)
		req.LineTimeout = 20 * time.Millisecond

		start := time.Now()
		resp, err := c.Transact(req)
		require.NoError(t, err)
		require.False(t, resp.Complete)
		require.True(t, time.Since(start) < time.Second)
		require.Equal(t, []byte("-2.0.0"), resp.Values["R:AB=etee"])
		require.Contains(t, resp.Values, "L:AB=etee")
		require.Nil(t, resp.Values["L:AB=etee"])
		_, ok := resp.Value("L:AB=etee")
		require.False(t, ok)
	})
}

func TestTransactNoStart(t *testing.T) {
	forEachMode(t, func(t *testing.T, tr *commtest.Transport, c *Channel) {
		respondWith(tr, "X:1.5 Y:-2 Z:3\r\nEND\r\n")
		req := NewRequest("BL+gf\r\n")
		req.Start = nil
		resp, err := c.Transact(req)
		require.NoError(t, err)
		require.True(t, resp.Complete)
		require.Equal(t, "X:1.5 Y:-2 Z:3\r\nEND\r\n", resp.String())
	})
}

func TestTransactFaults(t *testing.T) {
	forEachMode(t, func(t *testing.T, tr *commtest.Transport, c *Channel) {
		fault := errors.New("write failed")
		tr.SetWriteError(fault)
		resp, err := c.Transact(NewRequest("BP+AG\r\n"))
		require.Equal(t, fault, err)
		require.Nil(t, resp)

		tr.SetWriteError(nil)
		readFault := errors.New("read failed")
		tr.OnWrite = func(t *commtest.Transport, p []byte) {
			t.FeedString("OK\r\n")
			t.SetReadError(readFault)
		}
		resp, err = c.Transact(NewRequest("BP+AG\r\n"))
		require.Equal(t, readFault, err)
		require.NotNil(t, resp)
		require.False(t, resp.Complete)
	})
}
