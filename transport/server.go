// Copyright 2024 The Boson Network Authors
// This file is part of the dht-go library.
//
// The dht-go library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The dht-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dht-go library. If not, see <http://www.gnu.org/licenses/>.

// Package transport implements the RpcServer collaborator contract
// over a net.PacketConn: one goroutine owns the socket read loop, one
// owns the pending-call table, and all call state transitions are
// driven from the latter. Matching is by txid alone rather than by
// (ip, port, packet kind): txid uniqueness already disambiguates
// concurrent in-flight calls to the same peer. A sender id that differs
// from the call's target is flagged on the call, not used for matching.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/bosonnetwork/dht-go/dht"
	"github.com/bosonnetwork/dht-go/dht/wire"
)

const (
	// Datagrams are defined to be no larger than 1280 bytes; encoders
	// report an estimated size so senders can check before committing.
	maxPacketSize = 1280

	defaultSoftTimeout = 750 * time.Millisecond
	defaultHardTimeout = 3 * time.Second
)

// Config tunes the server's deadlines.
type Config struct {
	// SoftTimeout is how long a call may go unanswered before it is
	// reported STALLED. Zero selects the 750ms default; no stall is
	// reported when SoftTimeout is not below HardTimeout.
	SoftTimeout time.Duration
	// HardTimeout is the per-call deadline after which the call is
	// TIMEOUT and any late response is dropped.
	HardTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SoftTimeout == 0 {
		c.SoftTimeout = defaultSoftTimeout
	}
	if c.HardTimeout == 0 {
		c.HardTimeout = defaultHardTimeout
	}
	return c
}

// Handler answers inbound requests. Returning nil drops the request
// silently; returning an ERROR-typed message reports a failure to the
// caller. The handler runs on the read loop, so it must not block.
type Handler interface {
	HandleRequest(from *net.UDPAddr, msg *wire.Message) *wire.Message
}

// Observer learns about every node a valid packet was received from,
// so the routing table can refresh liveness without the transport
// depending on it. May be nil.
type Observer interface {
	Seen(node dht.NodeInfo)
}

// Stats counts RPC outcomes; metrics implementations hang off it. May
// be nil.
type Stats interface {
	RPCSent()
	RPCResponded()
	RPCTimeout()
	RPCError()
}

type pendingCall struct {
	call      *dht.RpcCall
	softTimer *time.Timer
	hardTimer *time.Timer
}

// Error counter keys, mirroring the sentinel kinds plus the
// transport-local "unsolicited reply" for unknown txids.
var errUnsolicitedReplyStr = "unsolicited reply"

// Server drives RpcCall state machines over a packet socket.
type Server struct {
	conn    net.PacketConn
	localId dht.Id
	handler Handler
	obs     Observer
	stats   Stats
	cfg     Config
	log     log.Logger

	addPending chan *pendingCall
	gotReply   chan *wire.Message
	timedOut   chan uint32
	stalled    chan uint32

	closeCtx       context.Context
	cancelCloseCtx context.CancelFunc
	closeOnce      sync.Once
	wg             sync.WaitGroup

	errMu  sync.Mutex
	errors map[string]uint
}

// NewServer wires a server to an open socket and starts its loops.
func NewServer(conn net.PacketConn, localId dht.Id, handler Handler, logger log.Logger, cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		conn:           conn,
		localId:        localId,
		handler:        handler,
		cfg:            cfg.withDefaults(),
		log:            logger,
		addPending:     make(chan *pendingCall),
		gotReply:       make(chan *wire.Message),
		timedOut:       make(chan uint32),
		stalled:        make(chan uint32),
		closeCtx:       ctx,
		cancelCloseCtx: cancel,
		errors:         make(map[string]uint),
	}
	s.wg.Add(2)
	go s.loop()
	go s.readLoop()
	return s
}

// SetObserver attaches the seen-node observer. Call before traffic
// starts.
func (s *Server) SetObserver(obs Observer) { s.obs = obs }

// SetStats attaches the outcome counter. Call before traffic starts.
func (s *Server) SetStats(st Stats) { s.stats = st }

// LocalAddr returns the bound socket address.
func (s *Server) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Errors returns a snapshot of the per-kind error counters.
func (s *Server) Errors() map[string]uint {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	out := make(map[string]uint, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

func (s *Server) countError(kind string) {
	s.errMu.Lock()
	s.errors[kind]++
	s.errMu.Unlock()
}

// SendCall implements dht.RpcServer: encode, register, write, and let
// the loop own the deadlines. Non-blocking for the caller beyond the
// socket write.
func (s *Server) SendCall(call *dht.RpcCall) error {
	msg := call.Request
	packet, estimated, err := wire.Encode(msg)
	if err != nil {
		call.MarkError()
		return err
	}
	if estimated > maxPacketSize {
		call.MarkError()
		return fmt.Errorf("%w: packet of %d bytes exceeds datagram budget", dht.ErrInvalidMessage, estimated)
	}

	p := &pendingCall{call: call}
	select {
	case s.addPending <- p:
	case <-s.closeCtx.Done():
		call.MarkError()
		return dht.ErrClosed
	}

	if _, err := s.conn.WriteTo(packet, call.Target.Addr()); err != nil {
		s.log.Debug("udp write failed", "to", call.Target.Addr(), "err", err)
		call.MarkError()
		return err
	}
	call.MarkSent()
	if s.stats != nil {
		s.stats.RPCSent()
	}
	return nil
}

// loop owns the pending table. Per-call deadlines are one-shot timers
// posting back into the loop rather than a single sorted timer list:
// the correctness contract only needs per-call hard deadlines, not
// FIFO timeout ordering.
func (s *Server) loop() {
	defer s.wg.Done()

	pending := make(map[uint32]*pendingCall)

	stopTimers := func(p *pendingCall) {
		if p.softTimer != nil {
			p.softTimer.Stop()
		}
		if p.hardTimer != nil {
			p.hardTimer.Stop()
		}
	}

	for {
		select {
		case <-s.closeCtx.Done():
			for txid, p := range pending {
				stopTimers(p)
				delete(pending, txid)
				p.call.MarkError()
			}
			return

		case p := <-s.addPending:
			txid := p.call.Txid()
			if prev, ok := pending[txid]; ok {
				// A txid collision means the counter wrapped while a
				// call was still alive; fail the old one.
				stopTimers(prev)
				prev.call.MarkError()
			}
			if s.cfg.SoftTimeout > 0 && s.cfg.SoftTimeout < s.cfg.HardTimeout {
				p.softTimer = time.AfterFunc(s.cfg.SoftTimeout, func() {
					select {
					case s.stalled <- txid:
					case <-s.closeCtx.Done():
					}
				})
			}
			p.hardTimer = time.AfterFunc(s.cfg.HardTimeout, func() {
				select {
				case s.timedOut <- txid:
				case <-s.closeCtx.Done():
				}
			})
			pending[txid] = p

		case txid := <-s.stalled:
			if p, ok := pending[txid]; ok {
				p.call.MarkStalled()
			}

		case txid := <-s.timedOut:
			p, ok := pending[txid]
			if !ok {
				continue
			}
			stopTimers(p)
			delete(pending, txid)
			p.call.MarkTimeout()
			if s.stats != nil {
				s.stats.RPCTimeout()
			}
			s.countError(dht.ErrTimeout.Error())

		case msg := <-s.gotReply:
			p, ok := pending[msg.Txid]
			if !ok {
				// Unknown txid: late or unsolicited. Dropped without
				// any callback; the observer already saw the sender.
				s.countError(errUnsolicitedReplyStr)
				continue
			}
			stopTimers(p)
			delete(pending, msg.Txid)
			p.call.MarkResponded(msg)
			if s.stats != nil {
				s.stats.RPCResponded()
			}
		}
	}
}

// readLoop owns the socket and decodes datagrams: responses and
// errors head to the pending table, requests to the handler.
func (s *Server) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxPacketSize)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		} else if err != nil {
			if err != io.EOF {
				s.log.Debug("udp read error", "err", err)
			}
			return
		}
		s.handlePacket(from.(*net.UDPAddr), buf[:n])
	}
}

func (s *Server) handlePacket(from *net.UDPAddr, data []byte) {
	msg, err := wire.Parse(data, nil)
	if err != nil {
		s.log.Debug("bad packet", "from", from, "err", err)
		s.countError(dht.ErrInvalidMessage.Error())
		return
	}

	sender := dht.NodeInfo{ID: dht.Id(msg.SenderId), IP: from.IP, Port: from.Port}
	if s.obs != nil {
		s.obs.Seen(sender)
	}

	switch msg.Type {
	case wire.TypeResponse, wire.TypeError:
		select {
		case s.gotReply <- msg:
		case <-s.closeCtx.Done():
		}
	case wire.TypeRequest:
		s.handleRequest(from, msg)
	}
}

func (s *Server) handleRequest(from *net.UDPAddr, msg *wire.Message) {
	if s.handler == nil {
		return
	}
	resp := s.handler.HandleRequest(from, msg)
	if resp == nil {
		return
	}
	resp.Txid = msg.Txid
	resp.Version = dht.ProtocolVersion
	resp.SenderId = [dht.IDLength]byte(s.localId)

	packet, _, err := wire.Encode(resp)
	if err != nil {
		s.log.Debug("encoding response failed", "to", from, "err", err)
		return
	}
	if _, err := s.conn.WriteTo(packet, from); err != nil {
		s.log.Debug("udp write failed", "to", from, "err", err)
	}
}

// Close stops both loops and fails every still-pending call.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.cancelCloseCtx()
		s.conn.Close()
		s.wg.Wait()
	})
}
