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
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap/zaptest"

	"obs/common/msgbus"
	"obs/common/obscfg"
	"obs/common/obsmsg"
	"obs/common/obstree"
)

// echoLeaf answers every request with its own address as the value.
type echoLeaf struct {
	obstree.Node
}

func newEchoLeaf() *echoLeaf {
	return &echoLeaf{Node: obstree.NewNode("leaf", "stub", nil)}
}

func (l *echoLeaf) GetResponse(ctx context.Context, req *obsmsg.ValueRequest) *obsmsg.ValueResponse {
	return obsmsg.OK(req.Address, obsmsg.NewValue(req.Address.String()))
}

func TestBuildTreeShape(t *testing.T) {
	cfg := obscfg.New(map[string]interface{}{
		"telescopes": []interface{}{"zb08", "jk15"},
		"tree": map[string]interface{}{
			"provider-zb08": map[string]interface{}{
				"aliases": []interface{}{"telescope1"},
			},
		},
	})

	tree, err := buildTree(cfg)
	require.NoError(t, err)

	var names []string
	obstree.Walk(tree, func(c obstree.Component) { names = append(names, c.Name()) })
	assert.Contains(t, names, "front")
	assert.Contains(t, names, "provider-zb08")
	assert.Contains(t, names, "freezer-jk15")
	assert.Contains(t, names, "grantor-zb08")
	assert.Contains(t, names, "alpaca-jk15")

	zb08 := tree.Subs()[0].(*obstree.Provider)
	assert.Equal(t, []string{"zb08", "telescope1"}, zb08.SourceNames())
}

func TestBuildTreeNeedsTelescopes(t *testing.T) {
	_, err := buildTree(obscfg.New(nil))
	require.Error(t, err)
}

func TestServiceAnswerIsAlive(t *testing.T) {
	r := &Router{slog: zaptest.NewLogger(t).Sugar(), name: "front"}

	probe, err := msgpack.Marshal(map[string]interface{}{"command": "is_alive"})
	require.NoError(t, err)
	answer := r.serviceAnswer([][]byte{probe})
	require.Len(t, answer, 1)

	var reply map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(answer[0], &reply))
	assert.Equal(t, "is_alive", reply["command"])
	assert.Equal(t, true, reply["response"])
}

func TestServiceAnswerUnknownCommand(t *testing.T) {
	r := &Router{slog: zaptest.NewLogger(t).Sugar(), name: "front"}

	probe, err := msgpack.Marshal(map[string]interface{}{"command": "self_destruct"})
	require.NoError(t, err)
	answer := r.serviceAnswer([][]byte{probe})
	require.Len(t, answer, 1)

	var reply interface{}
	require.NoError(t, msgpack.Unmarshal(answer[0], &reply))
	assert.Nil(t, reply)
}

func routerConfig(port int) *obscfg.Config {
	return obscfg.New(map[string]interface{}{
		"router": map[string]interface{}{
			"front": map[string]interface{}{
				"url":                "127.0.0.1",
				"port":               port,
				"ping-tasks-enabled": false,
			},
		},
	})
}

func startTestRouter(t *testing.T, port int) (*Router, context.CancelFunc) {
	slog := zaptest.NewLogger(t).Sugar()
	leaf := newEchoLeaf()
	prov := obstree.NewProvider("provider-zb08", "provider", []string{"zb08"}, leaf)
	front := obstree.NewBroker("front", []obstree.Source{prov})

	cfg := routerConfig(port)
	td := &obstree.TreeData{Cfg: cfg, Slog: slog}
	require.NoError(t, front.Init(td))

	solver := obstree.NewRequestSolver(slog, cfg, msgbus.NewBus(slog, "test"), front)
	router, err := NewRouter(slog, cfg, "front", solver)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go router.Run(ctx)
	return router, cancel
}

func testDealer(t *testing.T, port int) *zmq.Socket {
	sock, err := zmq.NewSocket(zmq.DEALER)
	require.NoError(t, err)
	require.NoError(t, sock.SetLinger(0))
	require.NoError(t, sock.SetRcvtimeo(5*time.Second))
	require.NoError(t, sock.Connect(fmt.Sprintf("tcp://127.0.0.1:%d", port)))
	return sock
}

func TestRouterAnswersRequest(t *testing.T) {
	_, cancel := startTestRouter(t, 45559)
	defer cancel()

	sock := testDealer(t, 45559)
	defer sock.Close()

	req := obsmsg.NewRequest(obsmsg.ParseAddress("zb08.mount.rightascension"))
	payload, err := req.Encode()
	require.NoError(t, err)
	env := obsmsg.NewEnvelope([]byte("msg-1"), obsmsg.Now()+5, false, [][]byte{payload})
	frames, err := env.Frames()
	require.NoError(t, err)
	_, err = sock.SendMessage(frames)
	require.NoError(t, err)

	back, err := sock.RecvMessageBytes(0)
	require.NoError(t, err)
	reply, err := obsmsg.ParseEnvelope(back, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("msg-1"), reply.MsgID)
	require.Len(t, reply.Data, 1)

	resp, err := obsmsg.DecodeResponse(reply.Data[0])
	require.NoError(t, err)
	require.True(t, resp.Status)
	assert.Equal(t, "zb08.mount.rightascension", resp.Value.V)
}

func TestRouterAnswersAliveProbe(t *testing.T) {
	_, cancel := startTestRouter(t, 45560)
	defer cancel()

	sock := testDealer(t, 45560)
	defer sock.Close()

	probe, err := msgpack.Marshal(map[string]interface{}{"command": "is_alive"})
	require.NoError(t, err)
	env := obsmsg.NewEnvelope([]byte("msg-2"), obsmsg.Now()+5, true, [][]byte{probe})
	frames, err := env.Frames()
	require.NoError(t, err)
	_, err = sock.SendMessage(frames)
	require.NoError(t, err)

	back, err := sock.RecvMessageBytes(0)
	require.NoError(t, err)
	reply, err := obsmsg.ParseEnvelope(back, 0)
	require.NoError(t, err)

	var answer map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(reply.Data[0], &answer))
	assert.Equal(t, true, answer["response"])
}
