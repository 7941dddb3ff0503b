package proxybind

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// startFakeSOCKS5 runs a listener that answers the no-auth greeting,
// returning its host and port plus a stop function.
func startFakeSOCKS5(t *testing.T) (string, int, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 3)
				if _, err := io.ReadFull(c, buf); err != nil {
					return
				}
				c.Write([]byte{0x05, 0x00})
				<-done
			}(conn)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	assert.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	assert.NoError(t, err)

	return host, port, func() {
		close(done)
		ln.Close()
	}
}

func TestParseProxyLines(t *testing.T) {
	text := "# comment\n" +
		"1.2.3.4:1080\n" +
		"5.6.7.8:4145 US-A +\n" + // spys-style annotation
		"not-a-proxy\n" +
		"9.9.9.9:notaport\n" +
		"127.0.0.1:1080\n" + // loopback dropped
		"192.168.1.10:1080\n" + // private dropped
		"\n"
	proxies := parseProxyLines(text)
	assert.Len(t, proxies, 2)
	assert.Equal(t, "1.2.3.4", proxies[0].Host)
	assert.Equal(t, 1080, proxies[0].Port)
	assert.Equal(t, "5.6.7.8", proxies[1].Host)
	assert.Equal(t, 4145, proxies[1].Port)
}

func TestProbe(t *testing.T) {
	host, port, stop := startFakeSOCKS5(t)
	defer stop()

	p := NewPoolSource(nil)
	latency, ok := p.probe(poolProxy{Host: host, Port: port})
	assert.True(t, ok)
	assert.Greater(t, latency, time.Duration(0))

	// Nothing listens on port 1.
	_, ok = p.probe(poolProxy{Host: "127.0.0.1", Port: 1})
	assert.False(t, ok)
}

func TestTestCandidates(t *testing.T) {
	host, port, stop := startFakeSOCKS5(t)
	defer stop()

	p := NewPoolSource(nil)
	candidates := []poolProxy{
		{Host: "127.0.0.1", Port: 1}, // dead
		{Host: host, Port: port},     // live
	}
	working := p.testCandidates(candidates, 2)
	assert.Len(t, working, 1)
	assert.True(t, working[0].Working)
	assert.Equal(t, port, working[0].Port)
}

func TestEndpointStableForSessionKey(t *testing.T) {
	p := NewPoolSource(nil)
	p.proxies = []poolProxy{
		{Host: "10.0.0.1", Port: 1080, Working: true, Latency: 10 * time.Millisecond},
		{Host: "10.0.0.2", Port: 1080, Working: true, Latency: 20 * time.Millisecond},
		{Host: "10.0.0.3", Port: 1080, Working: true, Latency: 30 * time.Millisecond},
	}
	p.lastUpdate = time.Now()

	first, err := p.Endpoint(Binding{SessionKey: "abc"})
	assert.NoError(t, err)
	assert.Contains(t, first.Server, "socks5://10.0.0.")
	for i := 0; i < 5; i++ {
		again, err := p.Endpoint(Binding{SessionKey: "abc"})
		assert.NoError(t, err)
		assert.Equal(t, first.Server, again.Server)
	}
}
