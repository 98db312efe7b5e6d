/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package obstree

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"obs/base_def"
	"obs/common/msgbus"
	"obs/common/obscfg"
	"obs/common/obsmsg"
)

// ObservatoryReporter is implemented by adapters that contribute their
// device layout to the published observatory configuration.
type ObservatoryReporter interface {
	ObservatoryName() string
	ObservatoryConfig() map[string]interface{}
}

// RequestSolver turns raw request payloads into raw response payloads by
// running them through the component tree.  It owns the tree lifecycle and
// the configuration report published on the message bus at startup.
type RequestSolver struct {
	slog *zap.SugaredLogger
	cfg  *obscfg.Config
	bus  *msgbus.Bus
	tree Component
}

// NewRequestSolver builds a solver around the front component of the tree.
func NewRequestSolver(slog *zap.SugaredLogger, cfg *obscfg.Config, bus *msgbus.Bus, tree Component) *RequestSolver {
	return &RequestSolver{slog: slog, cfg: cfg, bus: bus, tree: tree}
}

// RunTree initializes and starts the component tree, connects the message
// bus, and publishes the observatory configuration.  A missing message bus
// degrades to log warnings; request resolution does not depend on it.
func (s *RequestSolver) RunTree(ctx context.Context) error {
	td := &TreeData{Cfg: s.cfg, Slog: s.slog, Bus: s.bus, Resolver: s}
	if err := s.tree.Init(td); err != nil {
		return err
	}
	host, ok := s.cfg.GetString("nats", "host")
	if !ok {
		host = base_def.NATS_DEFAULT_HOST
	}
	port, ok := s.cfg.GetInt("nats", "port")
	if !ok {
		port = base_def.NATS_DEFAULT_PORT
	}
	if err := s.bus.Open(host, port, 10*time.Second); err != nil {
		s.slog.Warnf("message bus unavailable: %v", err)
	}
	if err := s.tree.Run(ctx); err != nil {
		return err
	}
	s.publishConfig()
	return nil
}

// StopTree halts the tree and drops the bus connection.
func (s *RequestSolver) StopTree() {
	s.tree.Stop()
	s.bus.Close()
}

// publishConfig reports the device layout of every adapter in the tree so
// clients can discover the observatories this daemon serves.
func (s *RequestSolver) publishConfig() {
	telescopes := make(map[string]interface{})
	Walk(s.tree, func(c Component) {
		if r, ok := c.(ObservatoryReporter); ok {
			telescopes[r.ObservatoryName()] = r.ObservatoryConfig()
		}
	})
	site, _ := s.cfg.Get("site")
	data := map[string]interface{}{
		"version":   "",
		"published": time.Now().UTC().Format(time.RFC3339),
		"config": map[string]interface{}{
			"telescopes": telescopes,
			"site":       site,
		},
	}
	subject, ok := s.cfg.GetString("nats", "streams", "alpaca_config")
	if !ok {
		subject = base_def.STREAM_ALPACA_CONFIG
	}
	meta := &msgbus.Meta{MessageType: "config", Tags: []string{"config_alpaca"}}
	if err := s.bus.Publish(subject, data, meta); err != nil {
		s.slog.Warnf("can not publish observatory configuration: %v", err)
	}
}

// GetAnswer resolves a batch of encoded requests concurrently.  Every
// payload gets an answer at the same position; payloads that cannot even
// be decoded get a critical placeholder so the client is never left
// counting frames.
func (s *RequestSolver) GetAnswer(ctx context.Context, payloads [][]byte, socketID []byte, timeout float64) [][]byte {
	out := make([][]byte, len(payloads))
	var wg sync.WaitGroup
	for i, raw := range payloads {
		wg.Add(1)
		go func(i int, raw []byte) {
			defer wg.Done()
			out[i] = s.getSingleAnswer(ctx, raw, socketID, timeout)
		}(i, raw)
	}
	wg.Wait()
	return out
}

func (s *RequestSolver) getSingleAnswer(ctx context.Context, raw, socketID []byte, timeout float64) []byte {
	req, err := obsmsg.DecodeRequest(raw)
	if err != nil {
		s.slog.Warnf("can not decode request payload: %v", err)
		return encodePlaceholder(nil, obsmsg.OtherErr(obsmsg.CodeUnknownRequest,
			"unrecognized request payload", obsmsg.SeverityCritical))
	}
	if req.User != nil {
		req.User.SocketID = socketID
	}
	req.RequestTimeout = timeout
	resp := s.resolve(ctx, req)
	b, err := resp.Encode()
	if err != nil {
		s.slog.Errorf("can not encode response for %s: %v", req.Address, err)
		return encodePlaceholder(req.Address, obsmsg.OtherErr(obsmsg.CodeResolverFault,
			"response could not be serialized", obsmsg.SeverityCritical))
	}
	return b
}

// ResolveInternal answers requests originating inside the process.
// Requests without a user run as the internal service identity.
func (s *RequestSolver) ResolveInternal(ctx context.Context, reqs []*obsmsg.ValueRequest, timeout float64) []*obsmsg.ValueResponse {
	out := make([]*obsmsg.ValueResponse, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		if req.User == nil {
			req.User = obsmsg.NewServiceUser("internal_client")
		}
		req.RequestTimeout = timeout
		wg.Add(1)
		go func(i int, req *obsmsg.ValueRequest) {
			defer wg.Done()
			out[i] = s.resolve(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return out
}

// resolve runs one request through the tree, converting panics and missing
// answers into critical resolver faults.
func (s *RequestSolver) resolve(ctx context.Context, req *obsmsg.ValueRequest) (resp *obsmsg.ValueResponse) {
	defer func() {
		if r := recover(); r != nil {
			s.slog.Errorf("panic while resolving %s: %v", req.Address, r)
			resp = obsmsg.Fail(req.Address, obsmsg.OtherErr(obsmsg.CodeResolverFault,
				"unexpected fault while resolving the request", obsmsg.SeverityCritical))
		}
	}()
	resp = s.tree.GetResponse(ctx, req)
	if resp == nil {
		resp = obsmsg.Fail(req.Address, obsmsg.OtherErr(obsmsg.CodeResolverFault,
			"the tree produced no response", obsmsg.SeverityCritical))
	}
	return resp
}

func encodePlaceholder(addr obsmsg.Address, e *obsmsg.Error) []byte {
	b, err := obsmsg.Fail(addr, e).Encode()
	if err != nil {
		return []byte{}
	}
	return b
}
