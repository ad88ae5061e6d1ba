package netcheck

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().String()
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestProbe(t *testing.T) {
	up := listen(t)
	down := closedAddr(t)

	tests := []struct {
		name    string
		addrs   []string
		offline bool
	}{
		{"reachable", []string{up}, false},
		{"falls through to a reachable address", []string{down, up}, false},
		{"nothing reachable", []string{down}, true},
		{"no addresses", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.addrs...).Probe(context.Background())
			if tt.offline {
				assert.ErrorIs(t, err, ErrOffline)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProbeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(closedAddr(t)).Probe(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrOffline)
}

func TestForURL(t *testing.T) {
	tests := []struct {
		url  string
		addr string
	}{
		{"https://api.openai.com/v1", "api.openai.com:443"},
		{"http://localhost:11434", "localhost:11434"},
		{"http://example.com/x", "example.com:80"},
	}
	for _, tt := range tests {
		c, err := ForURL(tt.url)
		require.NoError(t, err)
		assert.Equal(t, []string{tt.addr}, c.Addrs)
	}

	_, err := ForURL("not a url")
	assert.Error(t, err)
}
