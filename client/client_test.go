package client

import (
	"sync"
	"testing"
	"time"

	"github.com/duskmere/paxokv/chain"
	"github.com/duskmere/paxokv/config"
	"github.com/duskmere/paxokv/paxosproto"
)

// fakeTransport records every Send and optionally answers it on the
// client's own HandleMessage entry point, from a separate goroutine so the
// blocking Request call is exercised realistically.
type fakeTransport struct {
	mu       sync.Mutex
	sends    []int // pids sent to, in order
	respond  func(pid int, msg paxosproto.Message) (paxosproto.Message, bool)
	deliverTo *Client
}

func (f *fakeTransport) Send(pid int, role paxosproto.Role, msg paxosproto.Message) error {
	f.mu.Lock()
	f.sends = append(f.sends, pid)
	f.mu.Unlock()
	if f.respond == nil {
		return nil
	}
	if resp, ok := f.respond(pid, msg); ok {
		go f.deliverTo.HandleMessage(resp)
	}
	return nil
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func testConfig(waitTime time.Duration) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Roster = config.Roster{ServerAddrs: []string{"a", "b", "c"}, ClientAddrs: []string{"x"}}
	cfg.WaitTime = waitTime
	return cfg
}

func TestRequestRespondsOnFirstTry(t *testing.T) {
	ft := &fakeTransport{}
	ft.respond = func(pid int, msg paxosproto.Message) (paxosproto.Message, bool) {
		return paxosproto.Message{Kind: paxosproto.KindClientResponse, Op: msg.Op, Value: "It will be done, my lord."}, true
	}
	c := New(0, testConfig(time.Second), ft)
	ft.deliverTo = c

	op, _ := chain.NewPut("k", "v")
	got := c.Request(op)
	if got != "It will be done, my lord." {
		t.Errorf("Request = %q, want acknowledgement", got)
	}
	if ft.sendCount() != 1 {
		t.Errorf("sendCount = %d, want 1 (no retry needed)", ft.sendCount())
	}
}

func TestRequestDedupsConcurrentInFlight(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{}
	ft.respond = func(pid int, msg paxosproto.Message) (paxosproto.Message, bool) {
		<-release
		return paxosproto.Message{Kind: paxosproto.KindClientResponse, Op: msg.Op, Value: "It will be done, my lord."}, true
	}
	c := New(0, testConfig(time.Second), ft)
	ft.deliverTo = c

	op, _ := chain.NewPut("k", "v")
	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Request(op)
		}(i)
	}
	// Give both goroutines a chance to reach Request before unblocking the
	// single in-flight send.
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, r := range results {
		if r != "It will be done, my lord." {
			t.Errorf("result[%d] = %q, want acknowledgement", i, r)
		}
	}
	if ft.sendCount() != 1 {
		t.Errorf("sendCount = %d, want 1 (second call should dedup, not resend)", ft.sendCount())
	}
}

func TestRequestRetriesWithNewLeaderOnTimeout(t *testing.T) {
	ft := &fakeTransport{}
	first := true
	ft.respond = func(pid int, msg paxosproto.Message) (paxosproto.Message, bool) {
		if first {
			first = false
			return paxosproto.Message{}, false // drop the first send, forcing a timeout retry
		}
		if !msg.ForceLeader {
			t.Errorf("retry send should carry ForceLeader=true")
		}
		return paxosproto.Message{Kind: paxosproto.KindClientResponse, Op: msg.Op, Value: "It will be done, my lord."}, true
	}
	c := New(0, testConfig(15*time.Millisecond), ft)
	ft.deliverTo = c

	op, _ := chain.NewPut("k", "v")
	got := c.Request(op)
	if got != "It will be done, my lord." {
		t.Errorf("Request = %q, want acknowledgement after retry", got)
	}
	if ft.sendCount() != 2 {
		t.Errorf("sendCount = %d, want 2 (initial send + one timeout retry)", ft.sendCount())
	}
}

func TestHandleDecideUpdatesLeaderHint(t *testing.T) {
	ft := &fakeTransport{}
	c := New(0, testConfig(time.Second), ft)
	c.HandleMessage(paxosproto.Message{Kind: paxosproto.KindDecide, Ballot: paxosproto.Ballot{Pid: 2}})
	if c.LeaderID() != 2 {
		t.Errorf("LeaderID() = %d, want 2 after Decide", c.LeaderID())
	}
}
