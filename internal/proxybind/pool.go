package proxybind

import (
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// poolProxy is one tested SOCKS5 endpoint.
type poolProxy struct {
	Host    string
	Port    int
	Latency time.Duration
	Working bool
}

func (p poolProxy) addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// PoolSource serves bindings from a periodically refreshed list of
// public SOCKS5 proxies. Each session key hashes onto one entry of the
// working set, so a binding keeps its exit until it rotates or the
// pool turns over.
type PoolSource struct {
	mu             sync.RWMutex
	proxies        []poolProxy
	lastUpdate     time.Time
	updateInterval time.Duration
	sources        []string
	client         *http.Client
	dialTimeout    time.Duration
}

// NewPoolSource creates a pool backed by the given list URLs. An empty
// list falls back to the public sources that have proven usable.
func NewPoolSource(sources []string) *PoolSource {
	if len(sources) == 0 {
		sources = []string{
			"https://spys.me/socks.txt",
			"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/socks5.txt",
			"https://www.proxy-list.download/api/v1/get?type=socks5",
		}
	}
	return &PoolSource{
		sources:        sources,
		updateInterval: 30 * time.Minute,
		client:         &http.Client{Timeout: 30 * time.Second},
		dialTimeout:    5 * time.Second,
	}
}

// Endpoint implements Source. The binding's session key picks a stable
// entry from the fastest working proxies.
func (p *PoolSource) Endpoint(b Binding) (Endpoint, error) {
	if err := p.Refresh(); err != nil {
		p.mu.RLock()
		empty := len(p.proxies) == 0
		p.mu.RUnlock()
		if empty {
			return Endpoint{}, err
		}
		// A stale pool beats no pool.
		log.Warn().Err(err).Msg("proxy pool refresh failed, using stale entries")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.proxies) == 0 {
		return Endpoint{}, fmt.Errorf("proxy pool is empty")
	}
	top := len(p.proxies)
	if top > 10 {
		top = 10
	}
	h := fnv.New32a()
	h.Write([]byte(b.SessionKey))
	chosen := p.proxies[int(h.Sum32())%top]
	return Endpoint{Server: "socks5://" + chosen.addr()}, nil
}

// Refresh fetches and tests the proxy list when the cached one has
// gone stale. Concurrent callers serialize on the pool lock.
func (p *PoolSource) Refresh() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastUpdate) < p.updateInterval && len(p.proxies) > 0 {
		return nil
	}

	candidates, err := p.fetchCandidates()
	if err != nil {
		if len(p.proxies) > 0 {
			return nil
		}
		return err
	}

	working := p.testCandidates(candidates, 10)
	if len(working) == 0 {
		if len(p.proxies) > 0 {
			log.Warn().Msg("no working proxies found, keeping previous pool")
			return nil
		}
		return fmt.Errorf("no working proxies found")
	}
	sort.Slice(working, func(i, j int) bool { return working[i].Latency < working[j].Latency })

	p.proxies = working
	p.lastUpdate = time.Now()
	log.Info().Int("count", len(working)).Dur("fastest", working[0].Latency).Msg("proxy pool refreshed")
	return nil
}

// fetchCandidates tries each source URL in order and returns the first
// parseable list.
func (p *PoolSource) fetchCandidates() ([]poolProxy, error) {
	for _, src := range p.sources {
		req, err := http.NewRequest("GET", src, nil)
		if err != nil {
			continue
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Accept", "text/plain,*/*")

		resp, err := p.client.Do(req)
		if err != nil {
			log.Debug().Err(err).Str("url", src).Msg("proxy source fetch failed")
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil || resp.StatusCode != 200 {
			log.Debug().Int("status", resp.StatusCode).Str("url", src).Msg("proxy source unusable")
			continue
		}
		text := string(body)
		if strings.Contains(text, "<html") || strings.Contains(text, "<!DOCTYPE") {
			continue
		}
		if found := parseProxyLines(text); len(found) > 0 {
			log.Debug().Int("count", len(found)).Str("url", src).Msg("parsed proxy candidates")
			return found, nil
		}
	}
	return nil, fmt.Errorf("no proxy source yielded candidates")
}

// parseProxyLines extracts host:port pairs from a plain-text list.
// Lines may carry trailing annotations (country, anonymity) which are
// ignored; private and malformed addresses are dropped.
func parseProxyLines(text string) []poolProxy {
	var out []poolProxy
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		fields := strings.Fields(line)
		host, portStr, err := net.SplitHostPort(fields[0])
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			continue
		}
		ip := net.ParseIP(host)
		if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
			continue
		}
		out = append(out, poolProxy{Host: host, Port: port})
	}
	return out
}

// testCandidates probes candidates in batches until target working
// proxies are found.
func (p *PoolSource) testCandidates(candidates []poolProxy, target int) []poolProxy {
	var (
		working []poolProxy
		mu      sync.Mutex
	)
	const batchSize = 50
	for i := 0; i < len(candidates) && len(working) < target; i += batchSize {
		end := i + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		var wg sync.WaitGroup
		for j := i; j < end; j++ {
			wg.Add(1)
			go func(candidate poolProxy) {
				defer wg.Done()
				if latency, ok := p.probe(candidate); ok {
					candidate.Latency = latency
					candidate.Working = true
					mu.Lock()
					working = append(working, candidate)
					mu.Unlock()
				}
			}(candidates[j])
		}
		wg.Wait()
	}
	return working
}

// probe dials the proxy and performs the no-auth SOCKS5 greeting to
// weed out listeners that accept TCP but are not actually proxies.
func (p *PoolSource) probe(candidate poolProxy) (time.Duration, bool) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", candidate.addr(), p.dialTimeout)
	if err != nil {
		return 0, false
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		return 0, false
	}
	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return 0, false
	}
	if resp[0] != 0x05 || resp[1] != 0x00 {
		return 0, false
	}
	return time.Since(start), true
}

var _ Source = (*PoolSource)(nil)
