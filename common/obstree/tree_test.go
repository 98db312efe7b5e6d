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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"obs/common/obscfg"
	"obs/common/obsmsg"
)

// stubLeaf is a terminal component for tests.  It counts calls, optionally
// sleeps to simulate a slow upstream, and answers via the respond hook.
type stubLeaf struct {
	Node
	delay   time.Duration
	respond func(req *obsmsg.ValueRequest) *obsmsg.ValueResponse

	mtx   sync.Mutex
	calls int
	last  *obsmsg.ValueRequest
}

func newStubLeaf(respond func(req *obsmsg.ValueRequest) *obsmsg.ValueResponse) *stubLeaf {
	return &stubLeaf{Node: newNode("leaf", "stub", nil), respond: respond}
}

func (l *stubLeaf) GetResponse(ctx context.Context, req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
	l.mtx.Lock()
	l.calls++
	l.last = req
	l.mtx.Unlock()
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
		}
	}
	if l.respond != nil {
		return l.respond(req)
	}
	return obsmsg.OK(req.Address, obsmsg.NewValue("ok"))
}

func (l *stubLeaf) callCount() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.calls
}

func (l *stubLeaf) lastRequest() *obsmsg.ValueRequest {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.last
}

func initTree(t *testing.T, root Component, cfg map[string]interface{}) *TreeData {
	td := &TreeData{
		Cfg:  obscfg.New(cfg),
		Slog: zaptest.NewLogger(t).Sugar(),
	}
	require.NoError(t, root.Init(td))
	return td
}

func getRequest(addr string) *obsmsg.ValueRequest {
	req := obsmsg.NewRequest(obsmsg.ParseAddress(addr))
	req.RequestTimeout = obsmsg.Now() + 5
	return req
}

func TestBrokerRoutesBySourceName(t *testing.T) {
	leaf := newStubLeaf(nil)
	prov := NewProvider("provider-zb08", "provider", []string{"zb08"}, leaf)
	front := NewBroker("front", []Source{prov})
	initTree(t, front, nil)

	resp := front.GetResponse(context.Background(), getRequest("zb08.mount.rightascension"))
	require.True(t, resp.Status)
	assert.Equal(t, 1, leaf.callCount())
	assert.Equal(t, 1, leaf.lastRequest().Index)
}

func TestBrokerUnknownTarget(t *testing.T) {
	prov := NewProvider("provider-zb08", "provider", []string{"zb08"}, newStubLeaf(nil))
	front := NewBroker("front", []Source{prov})
	initTree(t, front, nil)

	resp := front.GetResponse(context.Background(), getRequest("jk15.mount.azimuth"))
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeUnknownTarget, resp.Err.Code)
}

func TestBrokerExhaustedAddress(t *testing.T) {
	front := NewBroker("front", nil)
	initTree(t, front, nil)

	req := getRequest("zb08")
	req.Index = 1
	resp := front.GetResponse(context.Background(), req)
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeNoCommand, resp.Err.Code)
}

func TestDefaultTargetBrokerKeepsCursor(t *testing.T) {
	fallback := newStubLeaf(nil)
	grantor := NewProvider("grantor", "provider", []string{"access_grantor"}, newStubLeaf(nil))
	b := NewDefaultTargetBroker("broker-zb08", []Source{grantor}, fallback)
	initTree(t, b, nil)

	req := getRequest("zb08.mount.azimuth")
	req.Index = 1
	resp := b.GetResponse(context.Background(), req)
	require.True(t, resp.Status)
	assert.Equal(t, 1, fallback.callCount())
	// The default target sees the cursor exactly where the broker got it.
	assert.Equal(t, 1, fallback.lastRequest().Index)
}

func TestProviderAuxiliarySourceNames(t *testing.T) {
	leaf := newStubLeaf(nil)
	prov := NewProvider("provider-zb08", "provider", []string{"zb08", "telescope1"}, leaf)
	initTree(t, prov, nil)

	resp := prov.GetResponse(context.Background(), getRequest("telescope1.dome.shutterstatus"))
	require.True(t, resp.Status)

	resp = prov.GetResponse(context.Background(), getRequest("other.dome.shutterstatus"))
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeUnknownTarget, resp.Err.Code)
}

func TestProviderAddressEndsBeforeValue(t *testing.T) {
	prov := NewProvider("provider-zb08", "provider", []string{"zb08"}, newStubLeaf(nil))
	initTree(t, prov, nil)

	req := getRequest("zb08")
	req.Index = 1
	resp := prov.GetResponse(context.Background(), req)
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeNoValue, resp.Err.Code)
}

func TestProviderWithoutSubcontractor(t *testing.T) {
	prov := NewProvider("provider-zb08", "provider", []string{"zb08"}, nil)
	initTree(t, prov, nil)

	resp := prov.GetResponse(context.Background(), getRequest("zb08.mount.azimuth"))
	require.NotNil(t, resp.Err)
	assert.Equal(t, obsmsg.CodeNoSubcontractor, resp.Err.Code)
	assert.Equal(t, obsmsg.SeverityCritical, resp.Err.Severity)
}

func TestWalkVisitsWholeTree(t *testing.T) {
	leaf := newStubLeaf(nil)
	prov := NewProvider("provider-zb08", "provider", []string{"zb08"}, leaf)
	front := NewBroker("front", []Source{prov})
	initTree(t, front, nil)

	var names []string
	Walk(front, func(c Component) { names = append(names, c.Name()) })
	assert.Equal(t, []string{"front", "provider-zb08", "leaf"}, names)
}
