/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package obsclient is the network side of the request tree: a DEALER
// socket speaking the multipart envelope protocol to a running obs.treed.
package obsclient

import (
	"bytes"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	"github.com/satori/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"obs/common/obsmsg"
)

// Window granted to requests that do not bring their own timeout, seconds.
const defaultRequestWindow = 5.0

// ErrTimeout reports that the server did not answer within the request
// window.
var ErrTimeout = errors.New("no answer from the server within the request window")

// Client is one connection to the front router.  It is not safe for
// concurrent use; callers that need parallel requests batch them into a
// single Send.
type Client struct {
	slog *zap.SugaredLogger
	sock *zmq.Socket
	user *obsmsg.User
}

// New connects to the router at address, e.g. "tcp://localhost:5559".
// Requests without a user of their own are stamped with clientName.
func New(slog *zap.SugaredLogger, address, clientName string) (*Client, error) {
	sock, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, errors.Wrap(err, "creating client socket")
	}
	if err = sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, errors.Wrap(err, "configuring client socket")
	}
	if err = sock.Connect(address); err != nil {
		sock.Close()
		return nil, errors.Wrapf(err, "can not connect to %s", address)
	}
	slog.Infof("client %s connected to %s", clientName, address)
	return &Client{
		slog: slog,
		sock: sock,
		user: obsmsg.NewUser(clientName),
	}, nil
}

// Close drops the connection.
func (c *Client) Close() {
	c.sock.Close()
}

// Send resolves a batch of requests in one envelope and returns the answers
// in order.  The envelope deadline is the shortest explicit request timeout,
// or a default window stamped onto every request that has none.
func (c *Client) Send(reqs ...*obsmsg.ValueRequest) ([]*obsmsg.ValueResponse, error) {
	timeout := 0.0
	for _, r := range reqs {
		if r.RequestTimeout > 0 && (timeout == 0 || r.RequestTimeout < timeout) {
			timeout = r.RequestTimeout
		}
	}
	if timeout == 0 {
		timeout = obsmsg.Now() + defaultRequestWindow
	}

	payloads := make([][]byte, 0, len(reqs))
	for _, r := range reqs {
		if r.User == nil {
			r.User = c.user
		}
		b, err := r.Encode()
		if err != nil {
			return nil, errors.Wrapf(err, "encoding request %s", r.Address)
		}
		payloads = append(payloads, b)
	}

	data, err := c.exchange(obsmsg.NewEnvelope(newMsgID(), timeout, false, payloads))
	if err != nil {
		return nil, err
	}
	if len(data) != len(reqs) {
		return nil, errors.Errorf("server answered %d payloads for %d requests",
			len(data), len(reqs))
	}
	out := make([]*obsmsg.ValueResponse, len(data))
	for i, raw := range data {
		resp, err := obsmsg.DecodeResponse(raw)
		if err != nil {
			return nil, errors.Wrap(err, "decoding response payload")
		}
		out[i] = resp
	}
	return out, nil
}

// Get resolves one READ request for the dotted address.
func (c *Client) Get(address string, window float64) (*obsmsg.ValueResponse, error) {
	req := obsmsg.NewRequest(obsmsg.ParseAddress(address))
	req.RequestTimeout = obsmsg.Now() + window
	resps, err := c.Send(req)
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}

// Put resolves one WRITE request for the dotted address.
func (c *Client) Put(address string, params map[string]interface{}, window float64) (*obsmsg.ValueResponse, error) {
	req := obsmsg.NewRequest(obsmsg.ParseAddress(address))
	req.RequestType = obsmsg.RequestPut
	req.Data = params
	req.RequestTimeout = obsmsg.Now() + window
	resps, err := c.Send(req)
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}

// IsAlive probes the router's service channel.
func (c *Client) IsAlive(window float64) (bool, error) {
	probe, err := msgpack.Marshal(map[string]interface{}{"command": "is_alive"})
	if err != nil {
		return false, errors.Wrap(err, "encoding alive probe")
	}
	data, err := c.exchange(obsmsg.NewEnvelope(newMsgID(), obsmsg.Now()+window,
		true, [][]byte{probe}))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	var reply map[string]interface{}
	if err := msgpack.Unmarshal(data[0], &reply); err != nil {
		return false, nil
	}
	alive, _ := reply["response"].(bool)
	return alive, nil
}

// exchange sends one envelope and waits for the reply carrying the same
// message id, discarding stale replies to earlier envelopes.
func (c *Client) exchange(env *obsmsg.Envelope) ([][]byte, error) {
	frames, err := env.Frames()
	if err != nil {
		return nil, errors.Wrap(err, "framing envelope")
	}
	if _, err = c.sock.SendMessage(frames); err != nil {
		return nil, errors.Wrap(err, "sending envelope")
	}

	deadline := time.Now().Add(floatDuration(env.RequestTimeout - obsmsg.Now()))
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		if err = c.sock.SetRcvtimeo(remaining); err != nil {
			return nil, errors.Wrap(err, "configuring receive timeout")
		}
		back, err := c.sock.RecvMessageBytes(0)
		if err != nil {
			return nil, ErrTimeout
		}
		reply, err := obsmsg.ParseEnvelope(back, 0)
		if err != nil {
			c.slog.Warnf("dropping malformed reply: %v", err)
			continue
		}
		if !bytes.Equal(reply.MsgID, env.MsgID) {
			c.slog.Warnf("dropping stale reply for message %x", reply.MsgID)
			continue
		}
		return reply.Data, nil
	}
}

func newMsgID() []byte {
	return []byte(uuid.NewV4().String())
}

func floatDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
