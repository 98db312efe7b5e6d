/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"obs/base_def"
	"obs/common/obscfg"
	"obs/common/obsmsg"
	"obs/common/obstree"
)

// routerPrefixSize is the number of transport frames in front of every
// envelope.  A ROUTER socket stamps exactly one identity frame.
const routerPrefixSize = 1

// routerDefaultWindow bounds the handling of requests that carry no usable
// timeout of their own, seconds.
const routerDefaultWindow = 30.0

const pollInterval = 50 * time.Millisecond

// Router owns the front ROUTER socket.  One goroutine owns the socket for
// both directions; each received envelope is handled on its own goroutine
// and the answer comes back through the reply channel.  Clients that send
// garbage get silence, not an error frame.
type Router struct {
	slog   *zap.SugaredLogger
	name   string
	solver *obstree.RequestSolver

	sock    *zmq.Socket
	replies chan [][]byte

	pingEnabled  bool
	pingInterval float64

	wg sync.WaitGroup
}

// NewRouter binds the front socket at the address configured under
// router.<name>.
func NewRouter(slog *zap.SugaredLogger, cfg *obscfg.Config, name string,
	solver *obstree.RequestSolver) (*Router, error) {

	r := &Router{
		slog:    slog,
		name:    name,
		solver:  solver,
		replies: make(chan [][]byte, 64),
	}

	protocol, ok := cfg.GetString("router", name, "protocol")
	if !ok {
		protocol = base_def.ROUTER_ZMQ_PROTOCOL
	}
	url, ok := cfg.GetString("router", name, "url")
	if !ok {
		url = base_def.ROUTER_ZMQ_URL
	}
	port, ok := cfg.GetInt("router", name, "port")
	if !ok {
		port = base_def.ROUTER_ZMQ_PORT
	}
	r.pingEnabled, ok = cfg.GetBool("router", name, "ping-tasks-enabled")
	if !ok {
		r.pingEnabled = true
	}
	r.pingInterval, ok = cfg.GetFloat("router", name, "ping-tasks-interval")
	if !ok {
		r.pingInterval = 1.0
	}

	sock, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return nil, errors.Wrap(err, "creating front socket")
	}
	// Pending messages are discarded the moment the socket closes.
	if err = sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, errors.Wrap(err, "configuring front socket")
	}
	address := fmt.Sprintf("%s://%s:%s", protocol, url, strconv.Itoa(port))
	slog.Infof("router %s starting on %s", name, address)
	if err = sock.Bind(address); err != nil {
		sock.Close()
		return nil, errors.Wrapf(err, "can not bind router to %s", address)
	}
	r.sock = sock
	return r, nil
}

// Endpoint reports the address the front socket is bound to.
func (r *Router) Endpoint() string {
	ep, _ := r.sock.GetLastEndpoint()
	return ep
}

// Run services the front socket until the context ends, then waits for the
// in-flight message tasks and closes the socket.
func (r *Router) Run(ctx context.Context) {
	if r.pingEnabled {
		r.wg.Add(1)
		go r.ping(ctx)
	} else {
		r.slog.Infof("router %s: ping task disabled in config", r.name)
	}

	poller := zmq.NewPoller()
	poller.Add(r.sock, zmq.POLLIN)
	for ctx.Err() == nil {
		polled, err := poller.Poll(pollInterval)
		if err != nil {
			r.slog.Warnf("router %s: poll failed: %v", r.name, err)
			continue
		}
		if len(polled) > 0 {
			frames, err := r.sock.RecvMessageBytes(0)
			if err != nil {
				r.slog.Warnf("router %s: receive failed: %v", r.name, err)
				continue
			}
			r.wg.Add(1)
			go r.handle(ctx, frames)
		}
		r.drainReplies()
	}

	r.wg.Wait()
	r.drainReplies()
	r.sock.Close()
}

func (r *Router) drainReplies() {
	for {
		select {
		case frames := <-r.replies:
			if _, err := r.sock.SendMessage(frames); err != nil {
				r.slog.Warnf("router %s: send failed: %v", r.name, err)
			}
		default:
			return
		}
	}
}

// handle answers one envelope.  Envelopes that do not validate, or whose
// deadline has already passed, are dropped without a reply.
func (r *Router) handle(ctx context.Context, frames [][]byte) {
	defer r.wg.Done()

	env, err := obsmsg.ParseEnvelope(frames, routerPrefixSize)
	if err != nil {
		metrics.dropped.Inc()
		r.slog.Errorf("router %s: malformed multipart: %v", r.name, err)
		return
	}
	if len(env.Prefix[0]) == 0 {
		metrics.dropped.Inc()
		r.slog.Errorf("router %s: multipart without client address", r.name)
		return
	}
	metrics.received.Inc()

	deadline := env.RequestTimeout
	if deadline == 0 {
		deadline = obsmsg.Now() + routerDefaultWindow
	}
	window := deadline - obsmsg.Now()
	if window <= 0 {
		metrics.dropped.Inc()
		r.slog.Errorf("router %s: request from client already expired", r.name)
		return
	}
	hctx, cancel := context.WithTimeout(ctx, time.Duration(window*float64(time.Second)))
	defer cancel()

	var answer [][]byte
	if env.Service {
		metrics.service.Inc()
		answer = r.serviceAnswer(env.Data)
	} else {
		answer = r.solver.GetAnswer(hctx, env.Data, env.Prefix[0], deadline)
	}
	if hctx.Err() != nil && ctx.Err() == nil {
		metrics.expired.Inc()
		r.slog.Errorf("router %s: handling the request has timed out", r.name)
		return
	}

	reply, err := env.Reply(answer).Frames()
	if err != nil {
		r.slog.Errorf("router %s: can not frame reply: %v", r.name, err)
		return
	}
	metrics.answered.Inc()
	select {
	case r.replies <- reply:
	case <-ctx.Done():
	}
}

// serviceAnswer handles router-level commands that never reach the tree.
// The only one so far is the aliveness probe.
func (r *Router) serviceAnswer(data [][]byte) [][]byte {
	var reply interface{}
	if len(data) > 0 {
		var msg map[string]interface{}
		if err := msgpack.Unmarshal(data[0], &msg); err == nil {
			if cmd, _ := msg["command"].(string); cmd == "is_alive" {
				reply = map[string]interface{}{"command": cmd, "response": true}
			}
		}
	}
	b, err := msgpack.Marshal(reply)
	if err != nil {
		b = []byte{}
	}
	return [][]byte{b}
}

// ping periodically notes that the router is still servicing its socket,
// so a quiet log does not look like a hung daemon.
func (r *Router) ping(ctx context.Context) {
	defer r.wg.Done()
	r.slog.Infof("router %s: ping task interval: %.2fs", r.name, r.pingInterval)
	t := time.NewTicker(time.Duration(r.pingInterval * float64(time.Second)))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.slog.Infof("%s: Listening...", r.name)
		}
	}
}
