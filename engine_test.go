package lwm2m

import (
	"testing"
	"time"
)

func TestNewEngineWiresComponents(t *testing.T) {
	e := NewEngine(EngineConfig{DefaultPMin: 3, DefaultPMax: 30})
	if e.Reg == nil || e.Notify == nil || e.Dispatch == nil || e.Conns == nil {
		t.Fatalf("NewEngine left a core component nil: %+v", e)
	}
	if e.Blocks == nil || e.OutBlocks == nil {
		t.Fatalf("NewEngine left the block managers nil")
	}
	if e.Dispatch.DefaultPMin != 3 || e.Dispatch.DefaultPMax != 30 {
		t.Fatalf("dispatcher defaults = (%d, %d), want (3, 30)", e.Dispatch.DefaultPMin, e.Dispatch.DefaultPMax)
	}
	if e.Notify.Send == nil {
		t.Fatalf("Notify.Send was not wired to sendNotify")
	}
	if len(e.Servers) != 0 || len(e.Messages) != 0 {
		t.Fatalf("a fresh engine should have no servers/messages yet")
	}
}

func TestEngineAddServerRegistersRDClientAndMessageContext(t *testing.T) {
	e := NewEngine(EngineConfig{})
	rc := e.AddServer(ServerConfig{Addr: "srv1:5683", LifetimeSecs: 100})
	if rc == nil {
		t.Fatalf("AddServer returned nil")
	}
	if rc.State != StateInit {
		t.Fatalf("new RD client state = %v, want StateInit", rc.State)
	}
	if e.Servers["srv1:5683"] != rc {
		t.Fatalf("Servers map not populated with the returned RDClient")
	}
	if e.Messages["srv1:5683"] == nil {
		t.Fatalf("Messages map not populated for the new server")
	}
}

func TestEngineMessageContextForCreatesLazily(t *testing.T) {
	e := NewEngine(EngineConfig{})
	mc1 := e.messageContextFor("neverAdded:5683")
	if mc1 == nil {
		t.Fatalf("messageContextFor returned nil")
	}
	mc2 := e.messageContextFor("neverAdded:5683")
	if mc1 != mc2 {
		t.Fatalf("messageContextFor allocated a second context instead of reusing the cached one")
	}
}

func TestEngineTickAdvancesRegisteredServerWithoutNetworkIO(t *testing.T) {
	e := NewEngine(EngineConfig{})
	rc := e.AddServer(ServerConfig{Addr: "srv1:5683", LifetimeSecs: 100})

	now := time.Now()
	rc.OnRegisterSuccess(now)
	if rc.State != StateRegistrationDone {
		t.Fatalf("state = %v, want StateRegistrationDone", rc.State)
	}

	e.Tick(now.Add(time.Second))
	if rc.State != StateRegistrationDone {
		t.Fatalf("state changed to %v after a tick with nothing due", rc.State)
	}
}

func TestEngineStopWithNoServersReturnsPromptly(t *testing.T) {
	e := NewEngine(EngineConfig{})
	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop() did not return for an engine with no servers/goroutines")
	}
}

func TestEngineStopDeregistersRegisteredServers(t *testing.T) {
	e := NewEngine(EngineConfig{})
	rc := e.AddServer(ServerConfig{Addr: "srv1:5683", LifetimeSecs: 100})
	rc.OnRegisterSuccess(time.Now())

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop() did not return")
	}
	if rc.State != StateDeregister {
		t.Fatalf("state = %v, want StateDeregister (Stop requests an orderly deregister)", rc.State)
	}
}
