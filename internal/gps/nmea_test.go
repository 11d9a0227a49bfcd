package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentence wraps an NMEA body with '$' and its XOR checksum.
func sentence(body string) string {
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", body, cs)
}

const (
	ggaValid    = "GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,"
	ggaNoFix    = "GPGGA,092751.000,,,,,0,0,,,M,,M,,"
	rmcSentence = "GPRMC,092750.000,A,5321.6802,N,00630.3372,W,0.02,31.66,280511,,,A"
)

func newTestNMEA(open func() (io.ReadCloser, error)) *NMEA {
	n := NewNMEA(NMEAConfig{ReadWindow: time.Second})
	n.open = open
	return n
}

func stream(lines ...string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(strings.Join(lines, ""))), nil
	}
}

func TestNMEAReturnsLatestValidGGA(t *testing.T) {
	n := newTestNMEA(stream(
		"garbage from a half-read line\r\n",
		sentence(rmcSentence),
		sentence(ggaNoFix),
		sentence(ggaValid),
	))

	fix, ok := n.Poll(context.Background())
	require.True(t, ok)
	assert.InDelta(t, 53.361336, fix.Latitude, 1e-5)
	assert.InDelta(t, -6.505620, fix.Longitude, 1e-5)
	assert.InDelta(t, 61.7, fix.Altitude, 1e-9)
}

func TestNMEANoFixIsAbsent(t *testing.T) {
	n := newTestNMEA(stream(sentence(ggaNoFix), sentence(rmcSentence)))
	_, ok := n.Poll(context.Background())
	assert.False(t, ok)
}

func TestNMEARejectsBadChecksum(t *testing.T) {
	n := newTestNMEA(stream("$" + ggaValid + "*00\r\n"))
	_, ok := n.Poll(context.Background())
	assert.False(t, ok)
}

func TestNMEARetriesOpenEveryPoll(t *testing.T) {
	opens := 0
	n := newTestNMEA(func() (io.ReadCloser, error) {
		opens++
		if opens < 3 {
			return nil, errors.New("device busy")
		}
		return io.NopCloser(strings.NewReader(sentence(ggaValid))), nil
	})

	_, ok := n.Poll(context.Background())
	require.False(t, ok)
	_, ok = n.Poll(context.Background())
	require.False(t, ok)
	_, ok = n.Poll(context.Background())
	require.True(t, ok)
	assert.Equal(t, 3, opens)
}

func TestNMEAReopensAfterReadError(t *testing.T) {
	opens := 0
	n := newTestNMEA(func() (io.ReadCloser, error) {
		opens++
		// EOF after one sentence behaves like a dropped line
		return io.NopCloser(strings.NewReader(sentence(ggaNoFix))), nil
	})

	_, ok := n.Poll(context.Background())
	require.False(t, ok)
	assert.Nil(t, n.port)

	_, ok = n.Poll(context.Background())
	require.False(t, ok)
	assert.Equal(t, 2, opens)
}

// silentPort behaves like a serial port that hits its read timeout forever.
type silentPort struct{}

func (silentPort) Read([]byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return 0, nil
}
func (silentPort) Close() error { return nil }

func TestNMEASilentPortReturnsWithoutWaiting(t *testing.T) {
	n := NewNMEA(NMEAConfig{ReadWindow: time.Second})
	n.open = func() (io.ReadCloser, error) { return silentPort{}, nil }

	start := time.Now()
	_, ok := n.Poll(context.Background())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "an empty port ends the drain")
	assert.NotNil(t, n.port, "a silent port is not a failure")
}

// chunkPort hands out one queued chunk per Read, then times out like an
// idle serial port. It never reaches EOF.
type chunkPort struct {
	chunks []string
}

func (p *chunkPort) Read(b []byte) (int, error) {
	if len(p.chunks) == 0 {
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	p.chunks[0] = p.chunks[0][n:]
	if p.chunks[0] == "" {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}
func (p *chunkPort) Close() error { return nil }

// endless never stops sending no-fix sentences.
type endless struct{}

func (endless) Read(b []byte) (int, error) { return copy(b, sentence(ggaNoFix)), nil }
func (endless) Close() error               { return nil }

func TestNMEAReadWindowCapsEndlessStream(t *testing.T) {
	n := NewNMEA(NMEAConfig{ReadWindow: 20 * time.Millisecond})
	n.open = func() (io.ReadCloser, error) { return endless{}, nil }

	start := time.Now()
	_, ok := n.Poll(context.Background())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestNMEACachesLatestFixAcrossPolls(t *testing.T) {
	port := &chunkPort{chunks: []string{sentence(ggaValid)}}
	now := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	n := newTestNMEA(func() (io.ReadCloser, error) { return port, nil })
	n.now = func() time.Time { return now }

	fix, ok := n.Poll(context.Background())
	require.True(t, ok)
	assert.InDelta(t, 61.7, fix.Altitude, 1e-9)

	// nothing new on the line: the fix is still fresh
	now = now.Add(time.Second)
	_, ok = n.Poll(context.Background())
	assert.True(t, ok)

	now = now.Add(maxFixAge)
	_, ok = n.Poll(context.Background())
	assert.False(t, ok, "stale fix")
}

func TestNMEALostLockClearsFix(t *testing.T) {
	port := &chunkPort{chunks: []string{sentence(ggaValid)}}
	n := newTestNMEA(func() (io.ReadCloser, error) { return port, nil })

	_, ok := n.Poll(context.Background())
	require.True(t, ok)

	// a sentence split across two reads is still parsed once complete
	nofix := sentence(ggaNoFix)
	port.chunks = []string{nofix[:10], nofix[10:]}
	_, ok = n.Poll(context.Background())
	assert.False(t, ok)
}

func TestSimulatedAlwaysHasFix(t *testing.T) {
	d := NewSimulated()
	for i := 0; i < 10; i++ {
		fix, ok := d.Poll(context.Background())
		require.True(t, ok)
		assert.InDelta(t, d.CenterLat, fix.Latitude, d.Radius+1e-9)
	}
}
