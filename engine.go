package lwm2m

import (
	"sync"
	"time"

	"github.com/matrix-org/go-coap/v2/message"
	piondtls "github.com/pion/dtls/v2"
)

// EngineConfig bundles the knobs needed to construct an Engine: transport
// tuning, DTLS credentials, and the attribute/codec defaults, mirroring the
// teacher's Config struct in cmd/proxy/proxy.go generalized from an HTTP
// proxy's settings to an LwM2M client's.
type EngineConfig struct {
	Transport   TransportConfig
	DTLS        *piondtls.Config
	DefaultPMin int32
	DefaultPMax int32
	Endpoint    string // registration endpoint client name
	Log         Logger
}

// Engine is the root LwM2M client context: one Registry of Objects, one
// NotificationEngine driving Observe/Notify, one RDClient FSM per
// configured server, and the transport/message plumbing tying them to the
// network. Grounded on spec.md §3's "LwM2M context" and the teacher's
// service-loop shape in cmd/proxy/proxy.go's RunProxyServer, adapted from
// an HTTP<->CoAP proxy loop to a device-side registration/observe client.
type Engine struct {
	mu sync.Mutex

	Reg        *Registry
	Notify     *NotificationEngine
	Dispatch   *Dispatcher
	Conns      *ConnectionManager
	Messages   map[string]*MessageContext
	Blocks     *BlockManager
	OutBlocks  *OutgoingBlockWriter
	Servers    map[string]*RDClient
	cfg        EngineConfig
	log        Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine wires together a fresh Registry/NotificationEngine/Dispatcher
// and an empty server set, ready for AddServer calls.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Log == nil {
		cfg.Log = DefaultLogger
	}
	reg := NewRegistry(64)
	notify := NewNotificationEngine(reg, cfg.DefaultPMin, cfg.DefaultPMax, cfg.Log)
	reg.SetNotifier(notify)
	dispatch := NewDispatcher(reg, notify)
	dispatch.DefaultPMin = cfg.DefaultPMin
	dispatch.DefaultPMax = cfg.DefaultPMax

	e := &Engine{
		Reg:       reg,
		Notify:    notify,
		Dispatch:  dispatch,
		Conns:     NewConnectionManager(cfg.DTLS, cfg.Log),
		Messages:  make(map[string]*MessageContext),
		Blocks:    NewBlockManager(),
		OutBlocks: NewOutgoingBlockWriter(),
		Servers:   make(map[string]*RDClient),
		cfg:       cfg,
		log:       cfg.Log,
		stopCh:    make(chan struct{}),
	}
	notify.Send = e.sendNotify
	return e
}

// AddServer registers a new LwM2M server (Bootstrap or regular) and its
// RD client FSM, starting it at StateInit.
func (e *Engine) AddServer(server ServerConfig) *RDClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	rc := NewRDClient(server, e, e.log)
	e.Servers[server.Addr] = rc
	e.Messages[server.Addr] = NewMessageContext(e.cfg.Transport, e.log)
	return rc
}

// messageContextFor returns (creating if needed) the message layer for a
// server address.
func (e *Engine) messageContextFor(addr string) *MessageContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	mc, ok := e.Messages[addr]
	if !ok {
		mc = NewMessageContext(e.cfg.Transport, e.log)
		e.Messages[addr] = mc
	}
	return mc
}

// sendNotify is NotificationEngine.Send's transport binding: render
// already done by the caller, this just needs a live connection to push
// the NOTIFY datagram over. Left as a stub point callers can override in
// tests; the real wire encoding (CoAP response with Observe option set to
// the sequence number) is assembled by whatever owns the raw socket loop,
// since spec.md scopes CoAP option encoding itself to the external
// collaborator described in §1.
func (e *Engine) sendNotify(obs *Observer, body []byte, format message.MediaType) error {
	_, err := e.Conns.Get(obs.ServerAddr)
	return err
}

// Tick drives one iteration of every server's RD client FSM, the
// notification engine's scheduling pass, and message-layer retransmission,
// matching spec.md §4.7's "service loop polls sockets, advances
// observation/RD timers, drains pending sends."
func (e *Engine) Tick(now time.Time) {
	e.Notify.Tick(now)

	e.mu.Lock()
	servers := make([]*RDClient, 0, len(e.Servers))
	for _, rc := range e.Servers {
		servers = append(servers, rc)
	}
	e.mu.Unlock()

	for _, rc := range servers {
		action := rc.Step(now)
		e.performAction(rc, action)
		mc := e.messageContextFor(rc.Server.Addr)
		mc.Tick(now)
	}
}

// performAction executes the side effect a Step() call requested. Actual
// datagram construction/sending is intentionally minimal here: spec.md
// scopes "packet parse/build, option encoding" to the external CoAP
// primitives collaborator, so this only manages the connection lifecycle
// and hands off to that collaborator via Conns.Get for the dial itself.
func (e *Engine) performAction(rc *RDClient, action Action) {
	switch action {
	case ActionSendBootstrapRequest, ActionSendRegister, ActionSendUpdate, ActionSendDeregister:
		if _, err := e.Conns.Get(rc.Server.Addr); err != nil {
			e.log.Printf("lwm2m: connect to %s failed: %v", rc.Server.Addr, err)
			rc.OnSocketFault()
		}
	case ActionSuspendSocket:
		e.Conns.Close(rc.Server.Addr)
	case ActionResumeSocket:
		if _, err := e.Conns.Get(rc.Server.Addr); err != nil {
			e.log.Printf("lwm2m: resume connect to %s failed: %v", rc.Server.Addr, err)
			rc.OnSocketFault()
		}
	}
}

// Start runs the service loop at the given tick interval until Stop is
// called, the Go equivalent of the teacher's RunProxyServer's blocking
// accept loop (cmd/proxy/proxy.go), here driven by a ticker instead of a
// listener Accept since the client side has no inbound connections to
// accept, only server sessions to poll.
func (e *Engine) Start(interval time.Duration) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case now := <-ticker.C:
				e.Tick(now)
			}
		}
	}()
}

// Stop moves every still-registered server's RD client to StateDeregister,
// then halts the service loop and closes all transport connections. No
// Deregister request is sent: Stop does not send one and the halted loop
// no longer steps the RD clients.
func (e *Engine) Stop() {
	e.mu.Lock()
	servers := make([]*RDClient, 0, len(e.Servers))
	for _, rc := range e.Servers {
		servers = append(servers, rc)
	}
	e.mu.Unlock()
	for _, rc := range servers {
		rc.Deregister()
	}
	close(e.stopCh)
	e.wg.Wait()
	e.Conns.CloseAll()
}
