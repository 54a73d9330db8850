package broker

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/velia-net/rendezvous/internal/metrics"
)

// conn is the registry's record of one live connection. The partner field is
// a weak back-reference: it holds the partner's id, never the partner itself,
// so tearing down one side cannot leave the other with a dangling handle.
type conn struct {
	id          uuid.UUID
	fingerprint string
	identity    string
	peer        Peer

	partner uuid.UUID // uuid.Nil when unpaired
	queued  bool
	alive   bool
}

// Config carries the broker's tunables.
type Config struct {
	// ExcludeSameOrigin prevents pairing two connections that share an origin
	// fingerprint (e.g. two tabs behind the same address). Self-pairing is
	// always excluded.
	ExcludeSameOrigin bool
}

// Broker owns the connection registry and the waiting queue.
type Broker struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
	cfg     Config

	mu    sync.Mutex
	conns map[uuid.UUID]*conn
	queue []uuid.UUID // ids of waiting, unpaired connections, FIFO
}

func New(cfg Config, log zerolog.Logger, m *metrics.Metrics) *Broker {
	return &Broker{
		log:     log,
		metrics: m,
		cfg:     cfg,
		conns:   make(map[uuid.UUID]*conn),
	}
}

// notice is a notification captured under the lock and delivered after it.
type notice struct {
	peer Peer
	n    Notice
}

func (b *Broker) deliver(pending []notice) {
	for _, p := range pending {
		if err := p.peer.Notify(p.n); err != nil {
			// The transport is dying; its read loop will run the disconnect path.
			b.log.Debug().Err(err).Str("notice", string(p.n.Type)).Msg("notify failed")
		}
	}
}

// Register adds a freshly authenticated connection to the registry and
// returns its identifier.
func (b *Broker) Register(peer Peer, fingerprint, identity string) uuid.UUID {
	id := uuid.New()

	b.mu.Lock()
	b.conns[id] = &conn{
		id:          id,
		fingerprint: fingerprint,
		identity:    identity,
		peer:        peer,
		alive:       true,
	}
	total := len(b.conns)
	b.mu.Unlock()

	b.log.Info().
		Str("conn_id", id.String()).
		Str("identity", identity).
		Str("fingerprint", fingerprint).
		Int("connections", total).
		Msg("connection registered")
	return id
}

// RequestMatch pairs the connection with the first compatible waiter, or
// enqueues it. A connection that already has a partner is left alone.
func (b *Broker) RequestMatch(id uuid.UUID) {
	b.mu.Lock()
	pending := b.requestMatchLocked(id)
	b.mu.Unlock()
	b.deliver(pending)
}

func (b *Broker) requestMatchLocked(id uuid.UUID) []notice {
	c, ok := b.conns[id]
	if !ok {
		return nil
	}
	if c.partner != uuid.Nil {
		return nil
	}

	b.compactQueueLocked()

	for i, qid := range b.queue {
		if qid == id {
			continue
		}
		cand := b.conns[qid]
		if b.cfg.ExcludeSameOrigin && cand.fingerprint == c.fingerprint {
			continue
		}

		b.queue = append(b.queue[:i], b.queue[i+1:]...)
		cand.queued = false
		if c.queued {
			b.removeFromQueueLocked(id)
			c.queued = false
		}

		// Both partner references are set inside this critical section; the
		// pairing is never observable half-formed.
		c.partner = cand.id
		cand.partner = c.id

		b.metrics.Inc(metrics.MatchFormed)
		b.log.Info().
			Str("conn_id", c.id.String()).
			Str("partner_id", cand.id.String()).
			Msg("pairing formed")

		return []notice{
			{peer: c.peer, n: Notice{Type: NoticePartnerFound, Partner: cand.id}},
			{peer: cand.peer, n: Notice{Type: NoticePartnerFound, Partner: c.id}},
		}
	}

	if !c.queued {
		b.queue = append(b.queue, id)
		c.queued = true
	}
	return []notice{{peer: c.peer, n: Notice{Type: NoticeWaiting}}}
}

// Skip dissolves the current pairing (if any), hands the former partner back
// to the matchmaker, and immediately re-matches the skipping connection.
func (b *Broker) Skip(id uuid.UUID) {
	b.mu.Lock()
	var pending []notice
	c, ok := b.conns[id]
	if ok {
		pending = b.dissolveLocked(c)
		pending = append(pending, notice{peer: c.peer, n: Notice{Type: NoticeSkipped}})
		pending = append(pending, b.requestMatchLocked(id)...)
	}
	b.mu.Unlock()
	b.deliver(pending)
}

// Leave removes the connection from the queue and dissolves its pairing
// without re-matching it.
func (b *Broker) Leave(id uuid.UUID) {
	b.mu.Lock()
	var pending []notice
	c, ok := b.conns[id]
	if ok {
		if c.queued {
			b.removeFromQueueLocked(id)
			c.queued = false
		}
		pending = b.dissolveLocked(c)
		pending = append(pending, notice{peer: c.peer, n: Notice{Type: NoticeLeft}})
	}
	b.mu.Unlock()
	b.deliver(pending)
}

// Disconnect tears the connection down: dissolves its pairing, hands the
// former partner back to the matchmaker, and removes the connection from the
// registry. Safe to call more than once.
func (b *Broker) Disconnect(id uuid.UUID) {
	b.mu.Lock()
	var pending []notice
	c, ok := b.conns[id]
	if ok {
		if c.queued {
			b.removeFromQueueLocked(id)
			c.queued = false
		}
		pending = b.dissolveLocked(c)
		delete(b.conns, id)
	}
	total := len(b.conns)
	b.mu.Unlock()

	if ok {
		b.log.Info().Str("conn_id", id.String()).Int("connections", total).Msg("connection removed")
		b.deliver(pending)
	}
}

// dissolveLocked clears both sides of c's pairing and re-runs matchmaking for
// the former partner. Returns the partner-left notification plus whatever the
// partner's re-match produced.
func (b *Broker) dissolveLocked(c *conn) []notice {
	if c.partner == uuid.Nil {
		return nil
	}
	p, ok := b.conns[c.partner]
	c.partner = uuid.Nil
	if !ok {
		return nil
	}
	p.partner = uuid.Nil

	b.metrics.Inc(metrics.MatchDissolved)
	b.log.Info().
		Str("conn_id", c.id.String()).
		Str("partner_id", p.id.String()).
		Msg("pairing dissolved")

	pending := []notice{{peer: p.peer, n: Notice{Type: NoticePartnerLeft}}}
	return append(pending, b.requestMatchLocked(p.id)...)
}

// Relay forwards a frame to the sender's current partner. Frames sent without
// a partner are dropped and answered with a no-partner notice; nothing is
// ever buffered for later delivery.
func (b *Broker) Relay(id uuid.UUID, kind string, frame []byte) {
	b.mu.Lock()
	c, ok := b.conns[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	var target Peer
	if c.partner != uuid.Nil {
		if p, ok := b.conns[c.partner]; ok {
			target = p.peer
		}
	}
	sender := c.peer
	b.mu.Unlock()

	if target == nil {
		b.metrics.Inc(metrics.DropNoPartner)
		if err := sender.Notify(Notice{Type: NoticeNoPartner}); err != nil {
			b.log.Debug().Err(err).Msg("no-partner notice failed")
		}
		return
	}

	b.metrics.Inc(relayMetric(kind))
	if err := target.Forward(frame); err != nil {
		b.log.Debug().Err(err).Str("kind", kind).Msg("relay write failed")
	}
}

func relayMetric(kind string) string {
	switch kind {
	case "chat":
		return metrics.RelayedChat
	case "offer":
		return metrics.RelayedOffer
	case "answer":
		return metrics.RelayedAnswer
	case "candidate":
		return metrics.RelayedCandidate
	default:
		return "relayed_" + kind
	}
}

// MarkAlive records a liveness acknowledgement (transport pong).
func (b *Broker) MarkAlive(id uuid.UUID) {
	b.mu.Lock()
	if c, ok := b.conns[id]; ok {
		c.alive = true
	}
	b.mu.Unlock()
}

// Stats is a point-in-time view of broker state.
type Stats struct {
	Connections int `json:"connections"`
	Waiting     int `json:"waiting"`
	Pairs       int `json:"pairs"`
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	paired := 0
	for _, c := range b.conns {
		if c.partner != uuid.Nil {
			paired++
		}
	}
	return Stats{
		Connections: len(b.conns),
		Waiting:     len(b.queue),
		Pairs:       paired / 2,
	}
}

func (b *Broker) removeFromQueueLocked(id uuid.UUID) {
	for i, qid := range b.queue {
		if qid == id {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return
		}
	}
}

// compactQueueLocked drops entries whose connection has been removed from the
// registry since being enqueued.
func (b *Broker) compactQueueLocked() {
	kept := b.queue[:0]
	for _, qid := range b.queue {
		if _, ok := b.conns[qid]; ok {
			kept = append(kept, qid)
		}
	}
	b.queue = kept
}
