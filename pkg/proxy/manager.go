package proxy

import (
	"math/rand"
	"sync"
	"time"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
}

// Manager handles the rotation of proxies and user agents. Each traffic
// session picks one identity when it opens and keeps it until it finishes.
type Manager struct {
	proxies    []string
	userAgents []string

	mu         sync.Mutex
	proxyIndex int
	rnd        *rand.Rand
}

func NewManager(proxies, userAgents []string) *Manager {
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}
	return &Manager{
		proxies:    proxies,
		userAgents: userAgents,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Identity is the outbound proxy and user agent of one session.
type Identity struct {
	Proxy     string
	UserAgent string
}

// Next returns a proxy URL rotating sequentially and a random user agent.
func (m *Manager) Next() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	var id Identity
	if len(m.proxies) > 0 {
		id.Proxy = m.proxies[m.proxyIndex]
		m.proxyIndex = (m.proxyIndex + 1) % len(m.proxies)
	}
	id.UserAgent = m.userAgents[m.rnd.Intn(len(m.userAgents))]
	return id
}
