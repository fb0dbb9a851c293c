package lwm2m

import (
	"testing"
	"time"
)

func TestMessageContextNextTokenUnique(t *testing.T) {
	mc := NewMessageContext(DefaultTransportConfig(), nil)
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		tok := mc.NextToken()
		if seen[string(tok)] {
			t.Fatalf("NextToken produced a repeat: %x", tok)
		}
		seen[string(tok)] = true
	}
}

func TestMessageContextSendAndDeliver(t *testing.T) {
	mc := NewMessageContext(DefaultTransportConfig(), nil)
	sent := 0
	ch, err := mc.SendConfirmable(1, mc.NextToken(), func() error {
		sent++
		return nil
	})
	if err != nil {
		t.Fatalf("SendConfirmable: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sendFunc call count = %d, want 1", sent)
	}
	if got := mc.PendingCount(); got != 1 {
		t.Fatalf("PendingCount = %d, want 1", got)
	}

	in := &IncomingMessage{MessageID: 1, Body: []byte("ok")}
	if !mc.Deliver(1, in) {
		t.Fatalf("Deliver returned false for a pending mid")
	}
	got := <-ch
	if got != in {
		t.Fatalf("delivered message = %+v, want %+v", got, in)
	}
	if mc.PendingCount() != 0 {
		t.Fatalf("PendingCount after deliver = %d, want 0", mc.PendingCount())
	}
}

func TestMessageContextDeliverUnknownMID(t *testing.T) {
	mc := NewMessageContext(DefaultTransportConfig(), nil)
	if mc.Deliver(42, &IncomingMessage{}) {
		t.Fatalf("Deliver on unknown mid returned true, want false")
	}
}

func TestMessageContextTickRetransmits(t *testing.T) {
	cfg := DefaultTransportConfig()
	cfg.AckTimeout = 10 * time.Millisecond
	cfg.MaxRetransmit = 2
	mc := NewMessageContext(cfg, nil)

	sends := 0
	start := time.Now()
	if _, err := mc.SendConfirmable(7, mc.NextToken(), func() error {
		sends++
		return nil
	}); err != nil {
		t.Fatalf("SendConfirmable: %v", err)
	}
	if sends != 1 {
		t.Fatalf("sends after initial send = %d, want 1", sends)
	}

	mc.Tick(start.Add(5 * time.Millisecond))
	if sends != 1 {
		t.Fatalf("sends before ACK timeout elapsed = %d, want 1", sends)
	}

	mc.Tick(start.Add(20 * time.Millisecond))
	if sends != 2 {
		t.Fatalf("sends after first retransmit = %d, want 2", sends)
	}
}

func TestMessageContextTickFailsAfterMaxRetransmit(t *testing.T) {
	cfg := DefaultTransportConfig()
	cfg.AckTimeout = time.Millisecond
	cfg.MaxRetransmit = 1
	mc := NewMessageContext(cfg, nil)

	ch, err := mc.SendConfirmable(9, mc.NextToken(), func() error { return nil })
	if err != nil {
		t.Fatalf("SendConfirmable: %v", err)
	}

	now := time.Now()
	mc.Tick(now.Add(10 * time.Millisecond))  // attempt 2 (<= MaxRetransmit, retries)
	mc.Tick(now.Add(100 * time.Millisecond)) // attempt now exceeds MaxRetransmit, fails

	select {
	case got := <-ch:
		if got != nil {
			t.Fatalf("failed exchange delivered non-nil message: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for failure delivery")
	}
}
