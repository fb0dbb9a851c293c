// Copyright 2021 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mobile contains a gomobile friendly API for running an LwM2M
// client from a host app: a single running Engine plus a start/stop
// lifecycle and plain string/int setters for the Device object's writable
// resources, since gomobile only binds a narrow subset of Go types across
// the language boundary (no channels, no exported struct fields of
// non-primitive type).
package mobile

import (
	"fmt"
	"sync"
	"time"

	lwm2m "github.com/foundriesio/lwm2m-client"
	piondtls "github.com/pion/dtls/v2"
	"github.com/sirupsen/logrus"
)

// ConnectionParams contains the tunable connection knobs, adapted from the
// teacher's DTLS/CoAP/OBSERVE parameter bundle to an LwM2M registration
// client's: server address, requested lifetime, and the transport timing
// the message layer uses for retransmission.
type ConnectionParams struct {
	// InsecureSkipVerify disables DTLS certificate verification. Only ever
	// set for local development against a test server.
	InsecureSkipVerify bool

	// LifetimeSecs is the registration lifetime requested of the server;
	// the client re-registers at half this interval.
	LifetimeSecs int

	// QueueMode enables Queue Mode binding ("UQ"), appropriate for clients
	// behind NAT or on a duty-cycled radio that cannot receive unsolicited
	// requests outside the exchange lifetime window.
	QueueMode bool

	// TransmissionACKTimeoutSecs/TransmissionMaxRetransmits tune the CoAP
	// confirmable-message retry policy; zero values fall back to
	// DefaultTransportConfig. The CoAP RFC recommends 2s/4 retries.
	// https://datatracker.ietf.org/doc/html/rfc7252#section-4.8
	TransmissionACKTimeoutSecs int
	TransmissionMaxRetransmits int
}

var activeConnectionParams = ConnectionParams{
	InsecureSkipVerify:         false,
	LifetimeSecs:               86400,
	TransmissionACKTimeoutSecs: 2,
	TransmissionMaxRetransmits: 4,
}

var paramsMu sync.Mutex

// Params returns the current connection parameters.
func Params() *ConnectionParams {
	paramsMu.Lock()
	defer paramsMu.Unlock()
	cp := activeConnectionParams
	return &cp
}

// SetParams changes the connection parameters to those given. Takes effect
// on the next Start call; a client already running keeps using the
// settings it started with.
func SetParams(cp *ConnectionParams) {
	paramsMu.Lock()
	defer paramsMu.Unlock()
	activeConnectionParams = *cp
}

// Status is a plain-data snapshot of the running client's registration
// state, safe to pass across the gomobile boundary.
type Status struct {
	Running bool
	State   string
}

var (
	engineMu sync.Mutex
	engine   *lwm2m.Engine
)

// Start brings up the client against serverAddr with the given endpoint
// name, registering the mandatory core objects (Security, Server, Device)
// and a Device instance populated with manufacturer/firmware identifiers.
// It is a no-op if already running.
func Start(serverAddr, endpoint string, bootstrap bool) error {
	engineMu.Lock()
	defer engineMu.Unlock()
	if engine != nil {
		return nil
	}
	if serverAddr == "" || endpoint == "" {
		return fmt.Errorf("mobile: server address and endpoint are required")
	}

	cp := *Params()
	transport := lwm2m.DefaultTransportConfig()
	if cp.TransmissionACKTimeoutSecs > 0 {
		transport.AckTimeout = time.Duration(cp.TransmissionACKTimeoutSecs) * time.Second
	}
	if cp.TransmissionMaxRetransmits > 0 {
		transport.MaxRetransmit = cp.TransmissionMaxRetransmits
	}

	eng := lwm2m.NewEngine(lwm2m.EngineConfig{
		Transport:   transport,
		DTLS:        &piondtls.Config{InsecureSkipVerify: cp.InsecureSkipVerify},
		DefaultPMin: 1,
		DefaultPMax: 60,
		Endpoint:    endpoint,
		Log:         lwm2m.NewLogrusLogger(logrus.StandardLogger()),
	})
	if err := registerCoreInstances(eng); err != nil {
		return err
	}

	lifetime := cp.LifetimeSecs
	if lifetime <= 0 {
		lifetime = 86400
	}
	rc := eng.AddServer(lwm2m.ServerConfig{
		Addr:         serverAddr,
		IsBootstrap:  bootstrap,
		LifetimeSecs: lifetime,
		Binding:      "U",
		QueueMode:    cp.QueueMode,
	})
	rc.EventFunc = func(old, new lwm2m.EngineState) {
		logrus.Infof("lwm2m mobile: %s -> %s", old, new)
	}

	eng.Start(time.Second)
	engine = eng
	return nil
}

// Stop tears down the running client through Engine.Stop: registered
// servers are moved to the deregister state without a Deregister request
// being sent, and all transport connections are closed. A no-op if not
// running.
func Stop() {
	engineMu.Lock()
	eng := engine
	engine = nil
	engineMu.Unlock()
	if eng != nil {
		eng.Stop()
	}
}

// GetStatus reports whether a client is running and, if so, the
// registration state of its first (and normally only) configured server.
func GetStatus() *Status {
	engineMu.Lock()
	defer engineMu.Unlock()
	if engine == nil {
		return &Status{Running: false}
	}
	for _, rc := range engine.Servers {
		return &Status{Running: true, State: rc.State.String()}
	}
	return &Status{Running: true, State: lwm2m.StateInit.String()}
}

// SetDeviceManufacturer writes the Device object's Manufacturer resource
// (/3/0/0) on the running client, notifying any observer of that path.
func SetDeviceManufacturer(v string) error {
	eng, err := runningEngine()
	if err != nil {
		return err
	}
	return eng.Reg.SetString(lwm2m.ResourcePath(lwm2m.DeviceObjectID, 0, 0), v)
}

// SetDeviceBatteryLevel writes the Device object's Battery Level resource
// (/3/0/9) on the running client.
func SetDeviceBatteryLevel(pct int) error {
	eng, err := runningEngine()
	if err != nil {
		return err
	}
	return eng.Reg.SetUint(lwm2m.ResourcePath(lwm2m.DeviceObjectID, 0, 9), lwm2m.TypeU8, uint64(pct))
}

func runningEngine() (*lwm2m.Engine, error) {
	engineMu.Lock()
	defer engineMu.Unlock()
	if engine == nil {
		return nil, fmt.Errorf("mobile: client not running")
	}
	return engine, nil
}

// registerCoreInstances installs the core object definitions and a single
// populated Device/Server instance of each, enough for Register's
// link-format payload to be non-trivial.
func registerCoreInstances(eng *lwm2m.Engine) error {
	lwm2m.RegisterCoreObjects(eng.Reg)

	if _, err := eng.Reg.CreateInstance(lwm2m.DeviceObjectID, 0); err != nil {
		return fmt.Errorf("mobile: create device instance: %w", err)
	}
	if err := eng.Reg.SetString(lwm2m.ResourcePath(lwm2m.DeviceObjectID, 0, 0), "Foundries.io"); err != nil {
		return fmt.Errorf("mobile: set manufacturer: %w", err)
	}
	if err := eng.Reg.SetString(lwm2m.ResourcePath(lwm2m.DeviceObjectID, 0, 3), "0.1.0"); err != nil {
		return fmt.Errorf("mobile: set firmware version: %w", err)
	}

	if _, err := eng.Reg.CreateInstance(lwm2m.ServerObjectID, 0); err != nil {
		return fmt.Errorf("mobile: create server instance: %w", err)
	}
	if err := eng.Reg.SetUint(lwm2m.ResourcePath(lwm2m.ServerObjectID, 0, 0), lwm2m.TypeU32, 1); err != nil {
		return fmt.Errorf("mobile: set short server id: %w", err)
	}
	return nil
}
