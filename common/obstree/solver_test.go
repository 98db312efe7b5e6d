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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"obs/common/msgbus"
	"obs/common/obscfg"
	"obs/common/obsmsg"
)

func newTestSolver(t *testing.T, leaf Component) *RequestSolver {
	slog := zaptest.NewLogger(t).Sugar()
	prov := NewProvider("provider-zb08", "provider", []string{"zb08"}, leaf)
	front := NewBroker("front", []Source{prov})
	td := &TreeData{Cfg: obscfg.New(nil), Slog: slog}
	solver := NewRequestSolver(slog, obscfg.New(nil), msgbus.NewBus(slog, "test"), front)
	td.Resolver = solver
	require.NoError(t, front.Init(td))
	return solver
}

func TestGetAnswerKeepsBatchPositions(t *testing.T) {
	solver := newTestSolver(t, newStubLeaf(nil))

	good, err := getRequest("zb08.mount.azimuth").Encode()
	require.NoError(t, err)
	payloads := [][]byte{[]byte("not msgpack"), good}

	answers := solver.GetAnswer(context.Background(), payloads, []byte("sock-1"), obsmsg.Now()+5)
	require.Equal(t, 2, len(answers))

	bad, err := obsmsg.DecodeResponse(answers[0])
	require.NoError(t, err)
	require.NotNil(t, bad.Err)
	assert.Equal(t, obsmsg.CodeUnknownRequest, bad.Err.Code)
	assert.Equal(t, obsmsg.SeverityCritical, bad.Err.Severity)

	ok, err := obsmsg.DecodeResponse(answers[1])
	require.NoError(t, err)
	assert.True(t, ok.Status)
}

func TestGetAnswerStampsUserSocket(t *testing.T) {
	leaf := newStubLeaf(nil)
	solver := newTestSolver(t, leaf)

	req := getRequest("zb08.mount.azimuth")
	req.User = obsmsg.NewUser("alice")
	raw, err := req.Encode()
	require.NoError(t, err)

	timeout := obsmsg.Now() + 7
	solver.GetAnswer(context.Background(), [][]byte{raw}, []byte("sock-9"), timeout)
	seen := leaf.lastRequest()
	require.NotNil(t, seen.User)
	assert.Equal(t, []byte("sock-9"), seen.User.SocketID)
	// The envelope timeout overrides whatever the request carried.
	assert.Equal(t, timeout, seen.RequestTimeout)
}

func TestResolveInternalInjectsServiceUser(t *testing.T) {
	leaf := newStubLeaf(nil)
	solver := newTestSolver(t, leaf)

	reqs := []*obsmsg.ValueRequest{getRequest("zb08.mount.azimuth")}
	out := solver.ResolveInternal(context.Background(), reqs, obsmsg.Now()+5)
	require.Equal(t, 1, len(out))
	require.True(t, out[0].Status)

	seen := leaf.lastRequest()
	require.NotNil(t, seen.User)
	assert.Equal(t, "internal_client", seen.User.Name)
	assert.True(t, seen.User.Service)
}

func TestResolverPanicBecomesFault(t *testing.T) {
	leaf := newStubLeaf(func(req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
		panic("device driver bug")
	})
	solver := newTestSolver(t, leaf)

	out := solver.ResolveInternal(context.Background(),
		[]*obsmsg.ValueRequest{getRequest("zb08.mount.azimuth")}, obsmsg.Now()+5)
	require.NotNil(t, out[0].Err)
	assert.Equal(t, obsmsg.CodeResolverFault, out[0].Err.Code)
	assert.Equal(t, obsmsg.SeverityCritical, out[0].Err.Severity)
}

func TestInternalClientRoundTrip(t *testing.T) {
	leaf := newStubLeaf(nil)
	solver := newTestSolver(t, leaf)

	client := NewInternalClient(solver, "watcher")
	resp := client.Get(context.Background(), "zb08.mount.azimuth")
	require.True(t, resp.Status)
	assert.Equal(t, "watcher_client", leaf.lastRequest().User.Name)
	assert.True(t, leaf.lastRequest().User.Service)
}
