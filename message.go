package lwm2m

import (
	"context"
	"sync"
	"time"

	"github.com/matrix-org/go-coap/v2/message"
	"github.com/matrix-org/go-coap/v2/message/codes"
)

// TransportConfig carries the retransmission/ACK/heartbeat tuning knobs
// spec.md §4.3 requires the message layer to own, generalized from the
// teacher's mobile.ConnectionParams (mobile/client.go), which threads the
// same knobs down to a single go-coap client connection per server.
type TransportConfig struct {
	// AckTimeout is CoAP's ACK_TIMEOUT: initial retransmission interval.
	AckTimeout time.Duration
	// AckRandomFactor widens AckTimeout on each retry to avoid synchronized
	// retransmission storms, per RFC 7252 §4.8.
	AckRandomFactor float64
	// MaxRetransmit is CoAP's MAX_RETRANSMIT: retries before giving up.
	MaxRetransmit int
	// NStart is the configured limit on outstanding confirmable requests
	// per server; MessageContext does not enforce it.
	NStart int
	// WaitBeforeACK is the piggyback window: how long a CON request may be
	// processed before an empty ACK must be sent, matching the teacher's
	// WaitTimeBeforeACK/time.AfterFunc pattern in cmd/proxy/proxy.go.
	WaitBeforeACK time.Duration
}

// DefaultTransportConfig mirrors RFC 7252's defaults plus the teacher's 5s
// piggyback window.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		AckTimeout:      2 * time.Second,
		AckRandomFactor: 1.5,
		MaxRetransmit:   4,
		NStart:          1,
		WaitBeforeACK:   5 * time.Second,
	}
}

// pendingRequest is one outstanding confirmable request awaiting either an
// ACK/response or a retransmission timeout, the "table of outstanding
// confirmable requests" spec.md §4.3 requires the message layer to own
// itself rather than delegate to the CoAP primitives layer.
type pendingRequest struct {
	token    message.Token
	mid      uint16
	sendFunc func() error
	attempt  int
	nextFire time.Time
	reply    chan *IncomingMessage
	done     bool
}

// IncomingMessage is a parsed CoAP response or request handed up from the
// transport, holding just what the message layer and dispatcher need.
type IncomingMessage struct {
	Code          codes.Code
	Token         message.Token
	MessageID     uint16
	ContentFormat message.MediaType
	HasFormat     bool
	Observe       uint32
	HasObserve    bool
	Body          []byte
	Confirmable   bool
}

// MessageContext is the per-server message layer: token allocation,
// pending/reply bookkeeping, and retransmission scheduling, grounded on
// spec.md §4.3's "message & block-transfer layer" component and the
// teacher's empty-ACK-on-timeout idiom (cmd/proxy/proxy.go
// listenAndServeDTLS). The underlying packet parse/build and option
// encoding themselves are left to github.com/matrix-org/go-coap/v2's
// message/codes packages, matching spec.md §1's framing of those as an
// out-of-scope external collaborator.
type MessageContext struct {
	mu       sync.Mutex
	cfg      TransportConfig
	pending  map[uint16]*pendingRequest
	tokenCtr uint64
	log      Logger
}

// NewMessageContext creates a message layer bound to one server connection.
func NewMessageContext(cfg TransportConfig, log Logger) *MessageContext {
	if log == nil {
		log = DefaultLogger
	}
	return &MessageContext{cfg: cfg, pending: make(map[uint16]*pendingRequest), log: log}
}

// NextToken returns a fresh, non-repeating token for this server's
// messages, matching spec.md §4.3's "token allocator" requirement.
func (m *MessageContext) NextToken() message.Token {
	m.mu.Lock()
	m.tokenCtr++
	ctr := m.tokenCtr
	m.mu.Unlock()
	tok := make(message.Token, 8)
	for i := 0; i < 8; i++ {
		tok[i] = byte(ctr >> (8 * i))
	}
	return tok
}

// SendConfirmable registers a confirmable request for retransmission
// tracking and invokes sendFunc to put the first copy on the wire. The
// returned channel receives the matching reply (by MessageID for an ACK
// carrying a piggybacked response, or later for a separate CON response);
// it is closed once the exchange completes or exhausts retries.
func (m *MessageContext) SendConfirmable(mid uint16, token message.Token, sendFunc func() error) (<-chan *IncomingMessage, error) {
	if err := sendFunc(); err != nil {
		return nil, err
	}
	pr := &pendingRequest{
		token:    token,
		mid:      mid,
		sendFunc: sendFunc,
		attempt:  1,
		nextFire: time.Now().Add(m.cfg.AckTimeout),
		reply:    make(chan *IncomingMessage, 1),
	}
	m.mu.Lock()
	m.pending[mid] = pr
	m.mu.Unlock()
	return pr.reply, nil
}

// Deliver routes an incoming ACK/response to its pending request by
// MessageID, matching spec.md §4.3's "reply matchers" requirement. It
// returns false if no pending request matches (an unsolicited or
// duplicate message, which the caller should ignore or hand to the
// observation engine as a NOTIFY).
func (m *MessageContext) Deliver(mid uint16, in *IncomingMessage) bool {
	m.mu.Lock()
	pr, ok := m.pending[mid]
	if ok {
		delete(m.pending, mid)
		pr.done = true
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	pr.reply <- in
	close(pr.reply)
	return true
}

// Tick drives retransmission: callers invoke it periodically (from the
// service loop) with the current time. Any pending request past its
// nextFire deadline is retransmitted, and its next wait is AckTimeout
// multiplied by AckRandomFactor once per earlier transmission. Once
// MaxRetransmit is exceeded the request is dropped and its reply channel
// receives nil and is closed.
func (m *MessageContext) Tick(now time.Time) {
	m.mu.Lock()
	var expired []*pendingRequest
	for mid, pr := range m.pending {
		if now.Before(pr.nextFire) {
			continue
		}
		if pr.attempt > m.cfg.MaxRetransmit {
			expired = append(expired, pr)
			delete(m.pending, mid)
			continue
		}
		pr.attempt++
		backoff := m.cfg.AckTimeout
		for i := 1; i < pr.attempt; i++ {
			backoff = time.Duration(float64(backoff) * m.cfg.AckRandomFactor)
		}
		pr.nextFire = now.Add(backoff)
		if err := pr.sendFunc(); err != nil {
			m.log.Printf("lwm2m: retransmit mid=%d failed: %v", mid, err)
		}
	}
	m.mu.Unlock()
	for _, pr := range expired {
		pr.reply <- nil
		close(pr.reply)
	}
}

// PendingCount reports outstanding confirmable requests.
func (m *MessageContext) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// AckTimer schedules the delayed empty-ACK send for a just-received
// confirmable request, the same piggyback window the teacher's
// listenAndServeDTLS implements with time.AfterFunc. Call the returned
// stop func once the real response has actually been sent, to suppress
// the ACK.
func (m *MessageContext) AckTimer(ctx context.Context, mid uint16, sendEmptyACK func() error) (stop func()) {
	var fired bool
	var mu sync.Mutex
	timer := time.AfterFunc(m.cfg.WaitBeforeACK, func() {
		mu.Lock()
		defer mu.Unlock()
		if fired {
			return
		}
		fired = true
		if err := sendEmptyACK(); err != nil {
			m.log.Printf("lwm2m: failed to send empty ACK for mid=%d: %v", mid, err)
		}
	})
	return func() {
		mu.Lock()
		fired = true
		mu.Unlock()
		timer.Stop()
	}
}
