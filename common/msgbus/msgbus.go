/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package msgbus wraps the NATS connection the tree daemon uses to publish
// configuration and status reports.  Messages are JSON documents of the
// form {"data": ..., "meta": ...}; subscribers key off meta.message_type
// and meta.tags.
package msgbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Meta describes a published message for subscribers.
type Meta struct {
	MessageType string    `json:"message_type"`
	Tags        []string  `json:"tags,omitempty"`
	Sender      string    `json:"sender,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

type message struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta"`
}

// Bus is a publish-only NATS client.  A zero Bus is unconnected; Publish on
// an unconnected bus returns an error rather than blocking.
type Bus struct {
	slog   *zap.SugaredLogger
	sender string

	mtx  sync.Mutex
	conn *nats.Conn
}

// NewBus builds a bus that stamps outgoing messages with the given sender.
func NewBus(slog *zap.SugaredLogger, sender string) *Bus {
	return &Bus{slog: slog, sender: sender}
}

// Open connects to the NATS server at host:port, retrying for up to wait.
func (b *Bus) Open(host string, port int, wait time.Duration) error {
	url := fmt.Sprintf("nats://%s:%d", host, port)
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.Timeout(wait))
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", url)
	}

	b.mtx.Lock()
	b.conn = conn
	b.mtx.Unlock()
	b.slog.Infof("connected to message bus at %s", url)
	return nil
}

// Connected reports whether the bus currently has a live connection.
func (b *Bus) Connected() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}

// Publish sends one JSON message on subject.  The meta publication time is
// stamped here.
func (b *Bus) Publish(subject string, data interface{}, meta *Meta) error {
	b.mtx.Lock()
	conn := b.conn
	b.mtx.Unlock()
	if conn == nil {
		return errors.New("message bus not connected")
	}

	if meta == nil {
		meta = &Meta{}
	}
	if meta.Sender == "" {
		meta.Sender = b.sender
	}
	meta.PublishedAt = time.Now().UTC()

	raw, err := json.Marshal(&message{Data: data, Meta: meta})
	if err != nil {
		return errors.Wrap(err, "marshaling bus message")
	}
	if err := conn.Publish(subject, raw); err != nil {
		return errors.Wrapf(err, "publishing to %s", subject)
	}
	return nil
}

// Close drains and drops the connection.
func (b *Bus) Close() {
	b.mtx.Lock()
	conn := b.conn
	b.conn = nil
	b.mtx.Unlock()
	if conn != nil {
		conn.Close()
	}
}
