/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package obsmsg

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the multipart frame layout exchanged with the front router:
//
//	[ prefix... | create_time | msg_id | request_timeout | service_flag | payload... ]
//
// The prefix frames are assigned by the routing socket and echoed back
// verbatim; each payload frame is one independently serialized request or
// response.  Empty data travels as a single empty frame.
type Envelope struct {
	Prefix         [][]byte
	CreateTime     float64
	MsgID          []byte
	RequestTimeout float64
	Service        bool
	Data           [][]byte
}

// header frames between the prefix and the payloads
const envelopeHeaderFrames = 4

// NewEnvelope stamps a fresh envelope with the current create time.
func NewEnvelope(msgID []byte, requestTimeout float64, service bool, data [][]byte) *Envelope {
	return &Envelope{
		CreateTime:     Now(),
		MsgID:          msgID,
		RequestTimeout: requestTimeout,
		Service:        service,
		Data:           data,
	}
}

// ParseEnvelope splits a received multipart message, treating the first
// prefixSize frames as the transport prefix.
func ParseEnvelope(frames [][]byte, prefixSize int) (*Envelope, error) {
	if prefixSize < 0 {
		return nil, errors.New("negative prefix size")
	}
	if len(frames) < prefixSize+envelopeHeaderFrames+1 {
		return nil, errors.Errorf("multipart too short: %d frames", len(frames))
	}
	e := &Envelope{
		Prefix: frames[:prefixSize],
		MsgID:  frames[prefixSize+1],
		Data:   frames[prefixSize+envelopeHeaderFrames:],
	}
	if err := msgpack.Unmarshal(frames[prefixSize], &e.CreateTime); err != nil {
		return nil, errors.Wrap(err, "envelope create_time")
	}
	if err := msgpack.Unmarshal(frames[prefixSize+2], &e.RequestTimeout); err != nil {
		return nil, errors.Wrap(err, "envelope request_timeout")
	}
	if err := msgpack.Unmarshal(frames[prefixSize+3], &e.Service); err != nil {
		return nil, errors.Wrap(err, "envelope service_flag")
	}
	return e, nil
}

// Reply builds the response envelope for this one: same prefix, create
// time, message id, and timeout, with the answer payloads swapped in.
func (e *Envelope) Reply(data [][]byte) *Envelope {
	return &Envelope{
		Prefix:         e.Prefix,
		CreateTime:     e.CreateTime,
		MsgID:          e.MsgID,
		RequestTimeout: e.RequestTimeout,
		Service:        e.Service,
		Data:           data,
	}
}

// Frames lays the envelope back out as multipart frames for sending.
func (e *Envelope) Frames() ([][]byte, error) {
	ct, err := msgpack.Marshal(e.CreateTime)
	if err != nil {
		return nil, errors.Wrap(err, "envelope create_time")
	}
	rt, err := msgpack.Marshal(e.RequestTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "envelope request_timeout")
	}
	sf, err := msgpack.Marshal(e.Service)
	if err != nil {
		return nil, errors.Wrap(err, "envelope service_flag")
	}
	data := e.Data
	if len(data) == 0 {
		data = [][]byte{{}}
	}
	frames := make([][]byte, 0, len(e.Prefix)+envelopeHeaderFrames+len(data))
	frames = append(frames, e.Prefix...)
	frames = append(frames, ct, e.MsgID, rt, sf)
	frames = append(frames, data...)
	return frames, nil
}
