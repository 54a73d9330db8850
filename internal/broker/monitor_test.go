package broker

import (
	"testing"
)

func TestSweep_ProbesLiveConnections(t *testing.T) {
	b := newTestBroker(true)
	p := &fakePeer{}
	b.Register(p, "10.0.0.1", "alice")

	b.sweep()

	p.mu.Lock()
	pings, closed := p.pings, p.closed
	p.mu.Unlock()
	if pings != 1 {
		t.Fatalf("pings=%d, want 1", pings)
	}
	if closed {
		t.Fatalf("freshly registered connection was closed")
	}
}

func TestSweep_EvictsAfterMissedProbe(t *testing.T) {
	b := newTestBroker(true)
	p := &fakePeer{}
	id := b.Register(p, "10.0.0.1", "alice")

	b.sweep() // probe sent, alive cleared
	b.sweep() // no ack arrived: evict

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		t.Fatalf("dead connection was not closed")
	}
	b.mu.Lock()
	_, registered := b.conns[id]
	b.mu.Unlock()
	if registered {
		t.Fatalf("dead connection still registered")
	}
}

func TestSweep_AcknowledgedConnectionSurvives(t *testing.T) {
	b := newTestBroker(true)
	p := &fakePeer{}
	id := b.Register(p, "10.0.0.1", "alice")

	b.sweep()
	b.MarkAlive(id)
	b.sweep()

	b.mu.Lock()
	_, registered := b.conns[id]
	b.mu.Unlock()
	if !registered {
		t.Fatalf("acknowledged connection was evicted")
	}
	p.mu.Lock()
	pings := p.pings
	p.mu.Unlock()
	if pings != 2 {
		t.Fatalf("pings=%d, want 2", pings)
	}
}

func TestSweep_EvictionFreesStrandedPartner(t *testing.T) {
	b := newTestBroker(true)
	pa, pb := &fakePeer{}, &fakePeer{}
	a := b.Register(pa, "10.0.0.1", "alice")
	bb := b.Register(pb, "10.0.0.2", "bob")
	b.RequestMatch(a)
	b.RequestMatch(bb)

	b.sweep()
	b.MarkAlive(bb) // only bob answers the probe
	b.sweep()

	if got := pb.countNotices(NoticePartnerLeft); got != 1 {
		t.Fatalf("partner-left notices=%d, want 1", got)
	}
	b.mu.Lock()
	_, aliceRegistered := b.conns[a]
	bobQueued := b.conns[bb].queued
	b.mu.Unlock()
	if aliceRegistered {
		t.Fatalf("dead side still registered")
	}
	if !bobQueued {
		t.Fatalf("stranded partner was not re-enqueued")
	}
	checkSymmetry(t, b)
}
