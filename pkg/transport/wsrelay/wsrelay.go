/*
Copyright 2026 The KubeEdge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

   http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package wsrelay implements transport.Transport through a WebSocket control
// server that forwards requests to devices and routes their responses back.
package wsrelay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kubeedge/ptalk-mapper/pkg/characteristic"
	"github.com/kubeedge/ptalk-mapper/pkg/mappercommon"
	"github.com/kubeedge/ptalk-mapper/pkg/transport"
)

const (
	// DefaultClientType is announced in the handshake.
	DefaultClientType = "android_app"
	// DefaultRequestTimeout bounds a request whose context has no deadline.
	DefaultRequestTimeout = 10 * time.Second

	eventBuffer = 256
	writeWait   = 5 * time.Second
)

// Options configures the relay client.
type Options struct {
	ServerURL      string
	ClientType     string
	RequestTimeout time.Duration
	Dialer         *websocket.Dialer
}

type subscription struct {
	address        string
	characteristic string
	ch             chan []byte
}

// Transport is a transport.Transport speaking the relay control protocol.
type Transport struct {
	opts Options

	mu          sync.Mutex
	conn        *websocket.Conn
	pending     map[string]chan *Frame
	links       map[string]uint64
	subs        []*subscription
	nextSession uint64
	closed      bool

	writeMu sync.Mutex
	events  chan transport.Event
}

var _ transport.Transport = &Transport{}

// New returns a relay client. The socket is dialed on the first Connect.
func New(opts Options) *Transport {
	if opts.ClientType == "" {
		opts.ClientType = DefaultClientType
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Transport{
		opts:    opts,
		pending: map[string]chan *Frame{},
		links:   map[string]uint64{},
		events:  make(chan transport.Event, eventBuffer),
	}
}

// ensureConn dials the relay and starts the reader if no socket is open.
func (t *Transport) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("transport closed")
	}
	if t.conn != nil {
		return t.conn, nil
	}
	conn, _, err := t.opts.Dialer.DialContext(ctx, t.opts.ServerURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial relay %s", t.opts.ServerURL)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Handshake{ClientType: t.opts.ClientType}); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to send handshake")
	}
	klog.Infof("Connected to relay %s", t.opts.ServerURL)
	t.conn = conn
	go t.readLoop(conn)
	return conn, nil
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.connLost(conn, err)
			return
		}
		frame := &Frame{}
		if err := json.Unmarshal(data, frame); err != nil {
			klog.Errorf("Failed to parse relay frame: %v", err)
			continue
		}
		t.dispatch(frame)
	}
}

func (t *Transport) dispatch(frame *Frame) {
	switch frame.Cmd {
	case CmdControlResponse:
		t.mu.Lock()
		ch, ok := t.pending[frame.ReqID]
		delete(t.pending, frame.ReqID)
		t.mu.Unlock()
		if !ok {
			klog.V(4).Infof("Dropping response for unknown request %s", frame.ReqID)
			return
		}
		ch <- frame
	case CmdDeviceStatus:
		d := frame.device()
		t.emitStatus(d.DeviceID, d)
	case CmdNotify:
		d := frame.device()
		payload, err := base64.StdEncoding.DecodeString(d.Value)
		if err != nil {
			klog.Warningf("Dropping notification with bad value from %s: %v", d.DeviceID, err)
			return
		}
		t.mu.Lock()
		for _, s := range t.subs {
			if s.address == d.DeviceID && strings.EqualFold(s.characteristic, d.Characteristic) {
				select {
				case s.ch <- payload:
				default:
					klog.Warningf("Dropping notification on %s, consumer too slow", d.Characteristic)
				}
			}
		}
		t.mu.Unlock()
	default:
		klog.V(4).Infof("Ignoring relay frame %q", frame.Cmd)
	}
}

// connLost fails every pending request and reports every link lost.
func (t *Transport) connLost(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	pending := t.pending
	t.pending = map[string]chan *Frame{}
	links := t.links
	t.links = map[string]uint64{}
	subs := t.subs
	t.subs = nil
	closed := t.closed
	t.mu.Unlock()
	conn.Close()

	if !closed {
		klog.Warningf("Relay connection lost: %v", cause)
	}
	for id, ch := range pending {
		ch <- &Frame{Cmd: CmdControlResponse, ReqID: id, Status: StatusError, ErrorCode: ErrCodeNotConnected, Message: cause.Error()}
	}
	for _, s := range subs {
		close(s.ch)
	}
	if closed {
		return
	}
	for addr := range links {
		t.emit(transport.Event{Address: addr, Type: transport.EventLinkLost, Err: cause})
	}
}

// request sends a control request and waits for its response.
func (t *Transport) request(ctx context.Context, address string, payload DevicePayload) (*DeviceResponse, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RequestTimeout)
		defer cancel()
	}
	conn, err := t.ensureConn(ctx)
	if err != nil {
		return nil, &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseDisconnected, Err: err}
	}

	req := ControlRequest{Cmd: CmdControlRequest, ReqID: uuid.NewString(), DeviceID: address, Payload: payload}
	ch := make(chan *Frame, 1)
	t.mu.Lock()
	t.pending[req.ReqID] = ch
	t.mu.Unlock()

	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(req)
	t.writeMu.Unlock()
	if err != nil {
		t.forget(req.ReqID)
		return nil, &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseDisconnected, Err: errors.Wrap(err, ErrCodeSendFailed)}
	}
	klog.V(4).Infof("Sent control request %s (%s) to %s", req.ReqID, payload.Cmd, address)

	select {
	case frame := <-ch:
		if frame.Status != StatusOK {
			return nil, responseError(address, frame)
		}
		return frame.device(), nil
	case <-ctx.Done():
		t.forget(req.ReqID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &mappercommon.TransportError{Address: address, Cause: mappercommon.CauseTimeout, Err: ctx.Err()}
		}
		return nil, ctx.Err()
	}
}

func (t *Transport) forget(reqID string) {
	t.mu.Lock()
	delete(t.pending, reqID)
	t.mu.Unlock()
}

// responseError maps a relay error code to a TransportError. Codes the relay
// does not define come from the device and leave the link up.
func responseError(address string, frame *Frame) error {
	var cause mappercommon.TransportCause
	switch frame.ErrorCode {
	case ErrCodeTimeout:
		cause = mappercommon.CauseTimeout
	case ErrCodeDeviceNotFound, ErrCodeDeviceOffline:
		cause = mappercommon.CauseNotFound
	case ErrCodeNotConnected, ErrCodeSendFailed:
		cause = mappercommon.CauseDisconnected
	default:
		cause = mappercommon.CauseRejected
	}
	return &mappercommon.TransportError{Address: address, Cause: cause, Err: fmt.Errorf("%s: %s", frame.ErrorCode, frame.Message)}
}

// Connect asks the relay for the device status. A reachable device is
// considered connected.
func (t *Transport) Connect(ctx context.Context, address string) (transport.Handle, error) {
	resp, err := t.request(ctx, address, DevicePayload{Cmd: DeviceCmdStatus})
	if err != nil {
		return transport.Handle{}, err
	}
	t.mu.Lock()
	t.nextSession++
	session := t.nextSession
	t.links[address] = session
	t.mu.Unlock()
	t.emitStatus(address, resp)
	return transport.Handle{Address: address, Session: session}, nil
}

func (t *Transport) checkLink(h transport.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if session, ok := t.links[h.Address]; !ok || session != h.Session {
		return &mappercommon.TransportError{Address: h.Address, Cause: mappercommon.CauseDisconnected, Err: errors.New(ErrCodeNotConnected)}
	}
	return nil
}

// ReadCharacteristic implements transport.Transport.
func (t *Transport) ReadCharacteristic(ctx context.Context, h transport.Handle, service, char uuid.UUID) ([]byte, error) {
	if err := t.checkLink(h); err != nil {
		return nil, err
	}
	resp, err := t.request(ctx, h.Address, DevicePayload{Cmd: DeviceCmdRead, Service: service.String(), Characteristic: char.String()})
	if err != nil {
		return nil, err
	}
	value, err := base64.StdEncoding.DecodeString(resp.Value)
	if err != nil {
		field, _ := characteristic.Lookup(char)
		return nil, &mappercommon.EncodingError{Field: field, Reason: "malformed value in relay response", Err: err}
	}
	return value, nil
}

// WriteCharacteristic implements transport.Transport.
func (t *Transport) WriteCharacteristic(ctx context.Context, h transport.Handle, service, characteristic uuid.UUID, payload []byte) error {
	if err := t.checkLink(h); err != nil {
		return err
	}
	_, err := t.request(ctx, h.Address, DevicePayload{
		Cmd:            DeviceCmdWrite,
		Service:        service.String(),
		Characteristic: characteristic.String(),
		Value:          base64.StdEncoding.EncodeToString(payload),
	})
	return err
}

// Subscribe registers for notify frames of a characteristic.
func (t *Transport) Subscribe(ctx context.Context, h transport.Handle, _, characteristic uuid.UUID) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.checkLink(h); err != nil {
		return nil, err
	}
	s := &subscription{address: h.Address, characteristic: characteristic.String(), ch: make(chan []byte, 16)}
	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()
	return s.ch, nil
}

// Disconnect forgets the link. The relay keeps its own device session.
func (t *Transport) Disconnect(h transport.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if session, ok := t.links[h.Address]; !ok || session != h.Session {
		return nil
	}
	delete(t.links, h.Address)
	kept := t.subs[:0]
	for _, s := range t.subs {
		if s.address == h.Address {
			close(s.ch)
			continue
		}
		kept = append(kept, s)
	}
	t.subs = kept
	return nil
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Close sends a close frame and shuts the socket.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	var err error
	if conn != nil {
		t.writeMu.Lock()
		err = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnecting"), time.Now().Add(writeWait))
		t.writeMu.Unlock()
		t.connLost(conn, errors.New("transport closed"))
	}
	t.mu.Lock()
	close(t.events)
	t.mu.Unlock()
	return err
}

func (t *Transport) emitStatus(address string, d *DeviceResponse) {
	if d == nil || address == "" {
		return
	}
	if battery, ok := d.Battery(); ok {
		t.emit(transport.Event{Address: address, Type: transport.EventBattery, Value: battery})
	}
	if d.WifiRSSI != nil {
		t.emit(transport.Event{Address: address, Type: transport.EventRSSI, Value: *d.WifiRSSI})
	}
}

func (t *Transport) emit(ev transport.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		klog.Warningf("Event channel full, dropping %s event for %s", ev.Type, ev.Address)
	}
}
