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

// Provider is a named entry point into a subtree.  It consumes the address
// segment matching one of its source names, advances the cursor, and runs
// the provider frame: answer from its hook when one is set, otherwise
// delegate to the subcontractor.
type Provider struct {
	Node
	sourceNames []string
	hook        Valuer
}

// NewProvider builds a provider answering to the given source names, the
// first being the main name.
func NewProvider(name, typeName string, sourceNames []string, sub Component) *Provider {
	return &Provider{Node: newNode(name, typeName, sub), sourceNames: sourceNames}
}

// SourceNames lists the address segments this provider answers to.
func (p *Provider) SourceNames() []string {
	return p.sourceNames
}

// GetResponse consumes the matching address segment and resolves the rest.
func (p *Provider) GetResponse(ctx context.Context, req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
	if req.Index >= len(req.Address) || req.Index < 0 {
		return obsmsg.Fail(req.Address, obsmsg.ValueErr(obsmsg.CodeNoValue,
			"the address ended before reaching a value").WithSource(p.name))
	}
	seg := req.Address[req.Index]
	match := false
	for _, n := range p.sourceNames {
		if n == seg {
			match = true
			break
		}
	}
	if !match {
		return obsmsg.Fail(req.Address, obsmsg.AddressErr(obsmsg.CodeUnknownTarget,
			"this provider does not serve the target "+seg).WithSource(p.name))
	}
	req.Index++
	return p.FrameResponse(ctx, req, p.hook, nil)
}
