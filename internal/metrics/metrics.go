package metrics

import "sync"

// Event names incremented by the broker and signaling layers.
const (
	AuthFailure      = "auth_failure"
	AuthSuccess      = "auth_success"
	LoginFailure     = "login_failure"
	MatchFormed      = "match_formed"
	MatchDissolved   = "match_dissolved"
	RelayedChat      = "relayed_chat"
	RelayedOffer     = "relayed_offer"
	RelayedAnswer    = "relayed_answer"
	RelayedCandidate = "relayed_candidate"
	DropNoPartner    = "drop_no_partner"
	DropMalformed    = "drop_malformed"
	DropRateLimited  = "drop_rate_limited"
	LivenessEviction = "liveness_eviction"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// Counters are keyed by event name and exposed for scraping via
// PrometheusHandler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
