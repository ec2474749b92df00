package network

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/duskmere/paxokv/config"
	"github.com/duskmere/paxokv/paxosproto"
)

func testRoster(serverPorts ...int) config.Roster {
	r := config.Roster{}
	for _, p := range serverPorts {
		r.ServerAddrs = append(r.ServerAddrs, fmt.Sprintf("127.0.0.1:%d", p))
	}
	return r
}

type recorder struct {
	mu  sync.Mutex
	got []paxosproto.Message
}

func (r *recorder) handle(msg paxosproto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMessengerSendReceivesAcrossLoopback(t *testing.T) {
	roster := testRoster(19401, 19402)
	cfg0 := &config.Config{Roster: roster}
	cfg1 := &config.Config{Roster: roster}

	var rec0, rec1 recorder
	m0 := NewMessenger(paxosproto.Sender{Pid: 0, Role: paxosproto.RoleServer}, cfg0, rec0.handle)
	m1 := NewMessenger(paxosproto.Sender{Pid: 1, Role: paxosproto.RoleServer}, cfg1, rec1.handle)
	if err := m0.Listen(); err != nil {
		t.Fatal(err)
	}
	if err := m1.Listen(); err != nil {
		t.Fatal(err)
	}
	defer m0.Disconnect()
	defer m1.Disconnect()

	msg := paxosproto.Message{Kind: paxosproto.KindTest, Value: "hi"}
	if err := m0.Send(1, paxosproto.RoleServer, msg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return rec1.count() == 1 })
}

func TestMessengerFailLinkBlocksSend(t *testing.T) {
	roster := testRoster(19411, 19412)
	cfg0 := &config.Config{Roster: roster}
	cfg1 := &config.Config{Roster: roster}

	var rec1 recorder
	m0 := NewMessenger(paxosproto.Sender{Pid: 0, Role: paxosproto.RoleServer}, cfg0, func(paxosproto.Message) {})
	m1 := NewMessenger(paxosproto.Sender{Pid: 1, Role: paxosproto.RoleServer}, cfg1, rec1.handle)
	if err := m0.Listen(); err != nil {
		t.Fatal(err)
	}
	if err := m1.Listen(); err != nil {
		t.Fatal(err)
	}
	defer m0.Disconnect()
	defer m1.Disconnect()

	m0.FailLink(1, paxosproto.RoleServer)
	msg := paxosproto.Message{Kind: paxosproto.KindTest, Value: "should not arrive"}
	if err := m0.Send(1, paxosproto.RoleServer, msg); err == nil {
		t.Fatal("Send over a failed link should return an error")
	}
	time.Sleep(20 * time.Millisecond)
	if rec1.count() != 0 {
		t.Fatal("message should not have been delivered over a failed link")
	}

	m0.FixLink(1, paxosproto.RoleServer)
	if err := m0.Send(1, paxosproto.RoleServer, msg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return rec1.count() == 1 })
}

func TestMessengerBroadcastDelayPaidOnce(t *testing.T) {
	roster := testRoster(19421, 19422, 19423)
	var recs [3]recorder
	msns := make([]*Messenger, 3)
	for i := range msns {
		cfg := &config.Config{Roster: roster, SendDelay: 50 * time.Millisecond}
		i := i
		msns[i] = NewMessenger(paxosproto.Sender{Pid: i, Role: paxosproto.RoleServer}, cfg, recs[i].handle)
		if err := msns[i].Listen(); err != nil {
			t.Fatal(err)
		}
		defer msns[i].Disconnect()
	}

	start := time.Now()
	msns[0].Broadcast(paxosproto.Message{Kind: paxosproto.KindTest, Value: "go"})
	elapsed := time.Since(start)

	// Two recipients, concurrent fan-out: elapsed should be close to one
	// delay period, not the sum of two.
	if elapsed > 120*time.Millisecond {
		t.Errorf("Broadcast took %s, want well under 2x the per-send delay (concurrent fan-out)", elapsed)
	}
	waitFor(t, time.Second, func() bool { return recs[1].count() == 1 && recs[2].count() == 1 })
	if recs[0].count() != 0 {
		t.Error("Broadcast should not deliver to self")
	}
}

func TestMessengerHandshakeAcceptsMatchingSecret(t *testing.T) {
	roster := testRoster(19441, 19442)
	cfg0 := &config.Config{Roster: roster, ClusterSecret: "shared"}
	cfg1 := &config.Config{Roster: roster, ClusterSecret: "shared"}

	var rec1 recorder
	m0 := NewMessenger(paxosproto.Sender{Pid: 0, Role: paxosproto.RoleServer}, cfg0, func(paxosproto.Message) {})
	m1 := NewMessenger(paxosproto.Sender{Pid: 1, Role: paxosproto.RoleServer}, cfg1, rec1.handle)
	if err := m0.Listen(); err != nil {
		t.Fatal(err)
	}
	if err := m1.Listen(); err != nil {
		t.Fatal(err)
	}
	defer m0.Disconnect()
	defer m1.Disconnect()

	msg := paxosproto.Message{Kind: paxosproto.KindTest, Value: "hi"}
	if err := m0.Send(1, paxosproto.RoleServer, msg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return rec1.count() == 1 })
}

func TestMessengerHandshakeRejectsMismatchedSecret(t *testing.T) {
	roster := testRoster(19451, 19452)
	cfg0 := &config.Config{Roster: roster, ClusterSecret: "attacker-secret"}
	cfg1 := &config.Config{Roster: roster, ClusterSecret: "real-secret"}

	var rec1 recorder
	m0 := NewMessenger(paxosproto.Sender{Pid: 0, Role: paxosproto.RoleServer}, cfg0, func(paxosproto.Message) {})
	m1 := NewMessenger(paxosproto.Sender{Pid: 1, Role: paxosproto.RoleServer}, cfg1, rec1.handle)
	if err := m0.Listen(); err != nil {
		t.Fatal(err)
	}
	if err := m1.Listen(); err != nil {
		t.Fatal(err)
	}
	defer m0.Disconnect()
	defer m1.Disconnect()

	msg := paxosproto.Message{Kind: paxosproto.KindTest, Value: "should be dropped"}
	_ = m0.Send(1, paxosproto.RoleServer, msg) // the handshake frame itself sends fine
	time.Sleep(50 * time.Millisecond)
	if rec1.count() != 0 {
		t.Fatal("message from a peer with a mismatched cluster secret must never reach the handler")
	}
}

func TestMessengerDisconnectThenListenAgain(t *testing.T) {
	roster := testRoster(19431, 19432)
	cfg0 := &config.Config{Roster: roster}
	cfg1 := &config.Config{Roster: roster}

	var rec1 recorder
	m0 := NewMessenger(paxosproto.Sender{Pid: 0, Role: paxosproto.RoleServer}, cfg0, func(paxosproto.Message) {})
	m1 := NewMessenger(paxosproto.Sender{Pid: 1, Role: paxosproto.RoleServer}, cfg1, rec1.handle)
	if err := m0.Listen(); err != nil {
		t.Fatal(err)
	}
	if err := m1.Listen(); err != nil {
		t.Fatal(err)
	}
	defer m0.Disconnect()

	m1.Disconnect() // simulate a crash
	msg := paxosproto.Message{Kind: paxosproto.KindTest, Value: "x"}
	_ = m0.Send(1, paxosproto.RoleServer, msg) // must not hang even though the peer is down

	if err := m1.Listen(); err != nil {
		t.Fatalf("Listen after Disconnect should succeed (fixProcess): %v", err)
	}
	defer m1.Disconnect()

	if err := m0.Send(1, paxosproto.RoleServer, msg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return rec1.count() == 1 })
}
