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

	"obs/common/obsmsg"
)

// Broker routes a request to the source whose name matches the address
// segment at the cursor.  The cursor is left untouched; the matched source
// consumes the segment itself.  A broker built with a default target sends
// unmatched requests there instead of failing them.
type Broker struct {
	Node
	sources  []Source
	fallback Component
}

// NewBroker builds a broker that fails unmatched requests.
func NewBroker(name string, sources []Source) *Broker {
	return &Broker{Node: newNode(name, "broker", nil), sources: sources}
}

// NewDefaultTargetBroker builds a broker that hands unmatched requests to
// fallback with the cursor unchanged.
func NewDefaultTargetBroker(name string, sources []Source, fallback Component) *Broker {
	return &Broker{Node: newNode(name, "broker", nil), sources: sources, fallback: fallback}
}

// GetResponse routes the request by the address segment at the cursor.
func (b *Broker) GetResponse(ctx context.Context, req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
	if req.Index >= len(req.Address) || req.Index < 0 {
		return obsmsg.Fail(req.Address, obsmsg.AddressErr(obsmsg.CodeNoCommand,
			"the address does not contain a target name").WithSource(b.name))
	}
	seg := req.Address[req.Index]
	for _, src := range b.sources {
		for _, n := range src.SourceNames() {
			if n == seg {
				return src.GetResponse(ctx, req)
			}
		}
	}
	if b.fallback != nil {
		return b.fallback.GetResponse(ctx, req)
	}
	return obsmsg.Fail(req.Address, obsmsg.AddressErr(obsmsg.CodeUnknownTarget,
		"no source serves the target "+seg).WithSource(b.name))
}

// Init distributes the tree data to every source and the default target.
func (b *Broker) Init(td *TreeData) error {
	if err := b.Node.Init(td); err != nil {
		return err
	}
	for _, src := range b.sources {
		if err := src.Init(td); err != nil {
			return err
		}
	}
	if b.fallback != nil {
		return b.fallback.Init(td)
	}
	return nil
}

// Run starts every source and the default target.
func (b *Broker) Run(ctx context.Context) error {
	for _, src := range b.sources {
		if err := src.Run(ctx); err != nil {
			return err
		}
	}
	if b.fallback != nil {
		return b.fallback.Run(ctx)
	}
	return nil
}

// Stop halts every source and the default target.
func (b *Broker) Stop() {
	for _, src := range b.sources {
		src.Stop()
	}
	if b.fallback != nil {
		b.fallback.Stop()
	}
}

// Subs lists every routed component.
func (b *Broker) Subs() []Component {
	out := make([]Component, 0, len(b.sources)+1)
	for _, src := range b.sources {
		out = append(out, src)
	}
	if b.fallback != nil {
		out = append(out, b.fallback)
	}
	return out
}
