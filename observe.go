package lwm2m

import (
	"sync"
	"time"

	"github.com/matrix-org/go-coap/v2/message"
)

// Observer tracks one OBSERVE registration: either a single path (classic
// observe) or a PathList (composite observe), plus the write-attribute
// derived schedule that governs when a NOTIFY is actually allowed out,
// grounded on spec.md §4.5 and the teacher's long-poll-to-OBSERVE bridging
// in coap_observe.go (Observations.addRegistration/removeRegistration,
// mutex-guarded table of active registrations keyed by client+path+token).
type Observer struct {
	Token      message.Token
	Paths      *PathList
	ServerAddr string
	Format     message.MediaType

	seqNum uint32

	// lastSent records, per observed path, the wall-clock time of the last
	// NOTIFY that carried it and whether it has changed since, so pmin/pmax
	// gating can be evaluated independently per resource inside a composite
	// observation. The notified value itself is not recorded, and gt/lt/st
	// are not evaluated.
	lastSent map[Path]observedValue

	cancelled bool
}

type observedValue struct {
	at      time.Time // last time a NOTIFY actually carried this path
	dirty   bool      // changed since at, still gated on pmin
	numeric float64
	haveNum bool
	raw     []byte
}

// NotificationEngine is the ChangeNotifier the Registry drives on every
// write, fanning changes out to whichever Observers cover the changed
// path and are due per their effective attributes. Grounded on the
// teacher's Observations (coap_observe.go): a mutex-guarded table keyed by
// registration id, with addRegistration/removeRegistration/getRegistration
// generalized from Matrix's (client, path, token) key to an LwM2M
// (serverAddr, token) key since LwM2M tokens are already unique per server.
type NotificationEngine struct {
	mu          sync.Mutex
	observers   map[string]*Observer
	reg         *Registry
	defaultPMin int32
	defaultPMax int32
	log         Logger

	// Send is invoked with a fully-formed NOTIFY body for one observer;
	// wired by the engine to the actual transport send path. Left nil in
	// tests that only exercise scheduling.
	Send func(obs *Observer, body []byte, format message.MediaType) error
}

// NewNotificationEngine creates a notification engine bound to reg, whose
// writes it will watch once installed via reg.SetNotifier(engine).
func NewNotificationEngine(reg *Registry, defaultPMin, defaultPMax int32, log Logger) *NotificationEngine {
	if log == nil {
		log = DefaultLogger
	}
	return &NotificationEngine{
		observers:   make(map[string]*Observer),
		reg:         reg,
		defaultPMin: defaultPMin,
		defaultPMax: defaultPMax,
		log:         log,
	}
}

func observerKey(serverAddr string, token message.Token) string {
	return serverAddr + "|" + token.String()
}

// Observe installs a classic single-path observation.
func (n *NotificationEngine) Observe(serverAddr string, token message.Token, p Path, format message.MediaType) *Observer {
	obs := &Observer{
		Token:      token,
		Paths:      NewPathList(p),
		ServerAddr: serverAddr,
		Format:     format,
		lastSent:   make(map[Path]observedValue),
	}
	n.mu.Lock()
	n.observers[observerKey(serverAddr, token)] = obs
	n.mu.Unlock()
	return obs
}

// ObserveComposite installs a composite observation over several paths, per
// spec.md §4.5's composite-observe extension.
func (n *NotificationEngine) ObserveComposite(serverAddr string, token message.Token, paths []Path, format message.MediaType) *Observer {
	obs := &Observer{
		Token:      token,
		Paths:      NewPathList(paths...),
		ServerAddr: serverAddr,
		Format:     format,
		lastSent:   make(map[Path]observedValue),
	}
	n.mu.Lock()
	n.observers[observerKey(serverAddr, token)] = obs
	n.mu.Unlock()
	return obs
}

// Cancel removes the observer for (serverAddr, token), matching a
// GET-with-Observe:1 reset or an RST from the peer.
func (n *NotificationEngine) Cancel(serverAddr string, token message.Token) {
	n.mu.Lock()
	delete(n.observers, observerKey(serverAddr, token))
	n.mu.Unlock()
}

// CancelServer drops every observer belonging to serverAddr, used on
// deregistration or connection loss.
func (n *NotificationEngine) CancelServer(serverAddr string) {
	n.mu.Lock()
	for k, o := range n.observers {
		if o.ServerAddr == serverAddr {
			delete(n.observers, k)
		}
	}
	n.mu.Unlock()
}

// CancelByPath removes every observer (classic or composite) whose path set
// intersects p (has an entry at, above or below p), used when an
// Object/Instance is deleted, per spec.md §4.5:
// "deleting an Instance/Object cancels any Observer whose path set is no
// longer fully valid."
func (n *NotificationEngine) CancelByPath(p Path) {
	n.mu.Lock()
	for k, o := range n.observers {
		if o.Paths.Matches(p) {
			delete(n.observers, k)
			continue
		}
		for _, entry := range o.Paths.Paths() {
			if entry.HasPrefix(p) {
				delete(n.observers, k)
				break
			}
		}
	}
	n.mu.Unlock()
}

// NotifyPathChanged implements ChangeNotifier. It is called synchronously
// from inside Registry.engineSet on every successful, value-changing write,
// and just marks candidates; pmin/pmax gating and the resulting NOTIFY
// send happen in Tick (gt/lt/st are not evaluated), so that a burst of writes in one
// WRITE/CREATE call collapses into a single notification pass rather than
// one send per resource, matching spec.md §4.5's "NOTIFY is coalesced per
// tick, not fired synchronously per resource write."
func (n *NotificationEngine) NotifyPathChanged(p Path) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, o := range n.observers {
		if o.Paths.Matches(p) {
			o.dirty(p)
		}
	}
}

// dirty marks p as changed-since-last-notify on an observer, without
// touching the last-sent timestamp: pmin gating in tickObserver measures
// elapsed time since that timestamp, so clearing it here would make every
// dirty path look like it was last sent at the zero time, i.e. arbitrarily
// long ago, defeating pmin entirely.
func (o *Observer) dirty(p Path) {
	if o.lastSent == nil {
		o.lastSent = make(map[Path]observedValue)
	}
	v := o.lastSent[p]
	v.dirty = true
	o.lastSent[p] = v
}

// Tick evaluates every observer against the current resource values and the
// elapsed time, sending a NOTIFY for any observer that is due, per spec.md
// §4.5's pmin/pmax rules (gt/lt/st attributes are not evaluated):
//   - pmax (the deepest set value, else the engine default) elapsed since
//     lastSent -> always notify; a pmax of 0 disables this.
//   - value changed and pmin elapsed since lastSent -> notify.
//   - value changed but pmin not yet elapsed -> defer (handled by a later
//     Tick once pmin has elapsed; no separate timer is scheduled).
func (n *NotificationEngine) Tick(now time.Time) {
	n.mu.Lock()
	observers := make([]*Observer, 0, len(n.observers))
	for _, o := range n.observers {
		observers = append(observers, o)
	}
	n.mu.Unlock()

	for _, obs := range observers {
		n.tickObserver(obs, now)
	}
}

func (n *NotificationEngine) tickObserver(obs *Observer, now time.Time) {
	var due bool
	for _, p := range obs.Paths.Paths() {
		eff := n.reg.Attrs().Effective(p, n.defaultPMin, n.defaultPMax)
		prev, seen := obs.lastSent[p]
		elapsed := now.Sub(prev.at)

		switch {
		case !seen:
			due = true
		case prev.dirty:
			// value marked dirty by NotifyPathChanged; gate on pmin.
			minWait := time.Duration(eff.PMin) * time.Second
			if elapsed >= minWait {
				due = true
			}
		case eff.PMax > 0 && elapsed >= time.Duration(eff.PMax)*time.Second:
			due = true
		}
	}
	if !due {
		return
	}

	body, err := n.renderObserver(obs)
	if err != nil {
		n.log.Printf("lwm2m: failed to render notify for token %x: %v", []byte(obs.Token), err)
		return
	}
	obs.seqNum++
	for _, p := range obs.Paths.Paths() {
		obs.lastSent[p] = observedValue{at: now}
	}
	if n.Send != nil {
		if err := n.Send(obs, body, obs.Format); err != nil {
			n.log.Printf("lwm2m: failed to send notify for token %x: %v", []byte(obs.Token), err)
		}
	}
}

// renderObserver encodes the current value(s) at obs.Paths using the
// registry's codec machinery, reusing the same resolve/read path Discover
// and GET share.
func (n *NotificationEngine) renderObserver(obs *Observer) ([]byte, error) {
	w := newSenMLCBORWriter()
	for _, p := range obs.Paths.Paths() {
		if err := encodePathInto(n.reg, w, p); err != nil {
			return nil, err
		}
	}
	return w.Bytes()
}
