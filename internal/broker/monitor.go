package broker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/velia-net/rendezvous/internal/metrics"
)

const DefaultProbeInterval = 30 * time.Second

// RunMonitor probes every registered connection on the given interval until
// ctx is cancelled. A connection that has not acknowledged the previous probe
// is evicted through the same cleanup path as a client-initiated disconnect.
func (b *Broker) RunMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

// sweep evicts connections that missed the previous probe and probes the
// rest. Eviction closes the transport and runs Disconnect directly so a
// stranded partner is freed even if the transport close never surfaces a read
// error.
func (b *Broker) sweep() {
	type probe struct {
		id   uuid.UUID
		peer Peer
	}

	b.mu.Lock()
	var dead, live []probe
	for id, c := range b.conns {
		if !c.alive {
			dead = append(dead, probe{id: id, peer: c.peer})
			continue
		}
		c.alive = false
		live = append(live, probe{id: id, peer: c.peer})
	}
	b.mu.Unlock()

	for _, p := range dead {
		b.metrics.Inc(metrics.LivenessEviction)
		b.log.Warn().Str("conn_id", p.id.String()).Msg("liveness probe missed, evicting")
		_ = p.peer.Close()
		b.Disconnect(p.id)
	}
	for _, p := range live {
		if err := p.peer.Ping(); err != nil {
			// Write failed; the connection will miss the next sweep and be evicted
			// there if the read loop doesn't clean it up first.
			b.log.Debug().Err(err).Str("conn_id", p.id.String()).Msg("liveness probe write failed")
		}
	}
}
