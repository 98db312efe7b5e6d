/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package obstree implements the component tree that resolves addressed
// value requests.  A request enters at the front broker and travels down
// through named providers, the conditional freezer, the cache, and the
// access blocker until a leaf adapter produces a value.  Each component
// consumes address segments, answers from its own state, or delegates to
// its subcontractor.
package obstree

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"obs/common/msgbus"
	"obs/common/obscfg"
	"obs/common/obsmsg"
)

// ErrDelegate is the sentinel a value hook returns to push the request down
// to the subcontractor instead of answering it.
var ErrDelegate = errors.New("delegate to subcontractor")

// TreeData carries the runtime handles shared by every component of one
// tree.  It is distributed during Init.
type TreeData struct {
	Cfg      *obscfg.Config
	Slog     *zap.SugaredLogger
	Bus      *msgbus.Bus
	Resolver Resolver
}

// Resolver answers batches of requests originating inside the process.  The
// request solver implements it; components reach it through their internal
// client.
type Resolver interface {
	ResolveInternal(ctx context.Context, reqs []*obsmsg.ValueRequest, timeout float64) []*obsmsg.ValueResponse
}

// Component is one node of the resolution tree.
type Component interface {
	// Name returns the unique component name used for configuration lookup.
	Name() string
	// GetResponse resolves one request.  It never returns nil.
	GetResponse(ctx context.Context, req *obsmsg.ValueRequest) *obsmsg.ValueResponse
	// Init distributes the shared tree data before the tree starts.
	Init(td *TreeData) error
	// Run starts background work.  It returns once startup is complete.
	Run(ctx context.Context) error
	// Stop halts background work started by Run.
	Stop()
	// Subs lists the direct subcontractors.
	Subs() []Component
	// Configuration reports the effective settings of this component.
	Configuration() map[string]interface{}
}

// Source is a component that can be routed to by name.
type Source interface {
	Component
	SourceNames() []string
}

// Valuer is the hook the provider frame calls to compute a value.  Returning
// ErrDelegate pushes the request to the subcontractor; returning an
// *obsmsg.Error fails the request with that error.
type Valuer interface {
	GetValue(ctx context.Context, req *obsmsg.ValueRequest) (*obsmsg.Value, error)
}

// Walk visits c and every component below it.
func Walk(c Component, fn func(Component)) {
	fn(c)
	for _, s := range c.Subs() {
		Walk(s, fn)
	}
}

// Node is the embeddable base of tree components: a name, an optional
// subcontractor, and the configuration scope resolved at Init time.
type Node struct {
	name     string
	typeName string
	sub      Component

	td    *TreeData
	scope *obscfg.Scope
	slog  *zap.SugaredLogger

	api *InternalClient
}

func newNode(name, typeName string, sub Component) Node {
	return Node{name: name, typeName: typeName, sub: sub}
}

// NewNode builds the embeddable base for components implemented outside
// this package.  typeName selects the data_collection section consulted by
// the configuration cascade.
func NewNode(name, typeName string, sub Component) Node {
	return newNode(name, typeName, sub)
}

// Log returns the tree logger.  Valid after Init.
func (n *Node) Log() *zap.SugaredLogger {
	return n.slog
}

// Name returns the component name.
func (n *Node) Name() string {
	return n.name
}

// Scope returns the component's configuration view.  Valid after Init.
func (n *Node) Scope() *obscfg.Scope {
	return n.scope
}

// Init stores the tree data, builds the configuration scope, and recurses
// into the subcontractor.
func (n *Node) Init(td *TreeData) error {
	n.td = td
	n.scope = td.Cfg.Scope(n.name, n.typeName)
	n.slog = td.Slog
	if n.sub != nil {
		return n.sub.Init(td)
	}
	return nil
}

// Run starts the subcontractor.
func (n *Node) Run(ctx context.Context) error {
	if n.sub != nil {
		return n.sub.Run(ctx)
	}
	return nil
}

// Stop halts the subcontractor.
func (n *Node) Stop() {
	if n.sub != nil {
		n.sub.Stop()
	}
}

// Subs lists the direct subcontractors.
func (n *Node) Subs() []Component {
	if n.sub == nil {
		return nil
	}
	return []Component{n.sub}
}

// Configuration reports the effective settings of this component.
func (n *Node) Configuration() map[string]interface{} {
	if n.scope == nil {
		return nil
	}
	return n.scope.Effective()
}

// API returns the component's internal client, created on first use.  The
// client authenticates as the service user "<component>_client".
func (n *Node) API() *InternalClient {
	if n.api == nil {
		n.api = NewInternalClient(n.td.Resolver, n.name)
	}
	return n.api
}

// FrameResponse runs the provider frame: ask the hook for a value, convert
// typed errors to failure responses, and delegate on the sentinel.  A nil
// hook delegates unconditionally.  onReturn, when set, inspects the
// subcontractor's answer on the way back up.
func (n *Node) FrameResponse(ctx context.Context, req *obsmsg.ValueRequest, hook Valuer,
	onReturn func(resp *obsmsg.ValueResponse, req *obsmsg.ValueRequest)) *obsmsg.ValueResponse {

	var v *obsmsg.Value
	err := ErrDelegate
	if hook != nil {
		v, err = hook.GetValue(ctx, req)
	}
	if err == nil {
		return obsmsg.OK(req.Address, v)
	}
	if errors.Is(err, ErrDelegate) {
		if n.sub == nil {
			return obsmsg.Fail(req.Address, obsmsg.OtherErr(obsmsg.CodeNoSubcontractor,
				"no subcontractor to take over the request", obsmsg.SeverityCritical).WithSource(n.name))
		}
		resp := n.sub.GetResponse(ctx, req)
		if resp == nil {
			return obsmsg.Fail(req.Address, obsmsg.OtherErr(obsmsg.CodeBadSubcontractor,
				"subcontractor returned no response", obsmsg.SeverityCritical).WithSource(n.name))
		}
		if onReturn != nil {
			onReturn(resp, req)
		}
		return resp
	}
	var te *obsmsg.Error
	if errors.As(err, &te) {
		return obsmsg.Fail(req.Address, te.WithSource(n.name))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		n.slog.Debugf("%s: request %s abandoned before a value was produced", n.name, req.Address)
		return obsmsg.Fail(req.Address, obsmsg.OtherErr(obsmsg.CodeUpstreamUnavail,
			"the request was cancelled before a value was produced",
			obsmsg.SeverityTemporary).WithSource(n.name))
	}
	n.slog.Errorf("%s: unexpected resolution error for %s: %v", n.name, req.Address, err)
	return obsmsg.Fail(req.Address, obsmsg.OtherErr(obsmsg.CodeResolverFault,
		err.Error(), obsmsg.SeverityCritical).WithSource(n.name))
}
