/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

/*
 * obs.treed is the observatory request server: it binds the front ROUTER
 * socket, resolves addressed requests through the component tree, and
 * publishes the observatory configuration on the message bus.
 */

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tomazk/envcfg"
	"go.uber.org/zap"

	"obs/common/msgbus"
	"obs/common/obscfg"
	"obs/common/obstree"
	"obs/common/obsutil"
)

const pname = "obs.treed"

var (
	configPaths = flag.String("config", "",
		"comma-separated list of YAML configuration files")
	routerName = flag.String("router", "front",
		"name of the router configuration section")

	slog *zap.SugaredLogger
)

var environ struct {
	Config string `envcfg:"OBS_TREED_CONFIG"`
	Router string `envcfg:"OBS_TREED_ROUTER"`
}

func configFiles() []string {
	paths := *configPaths
	if paths == "" {
		paths = environ.Config
	}
	if paths == "" {
		return nil
	}
	out := make([]string, 0, 2)
	for _, p := range strings.Split(paths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	flag.Parse()
	slog = obsutil.NewLogger()
	defer slog.Sync()
	slog.Infow(pname+" starting", "args", os.Args)

	if err := envcfg.Unmarshal(&environ); err != nil {
		slog.Fatalf("environment error: %v", err)
	}
	if environ.Router != "" && *routerName == "front" {
		*routerName = environ.Router
	}

	files := configFiles()
	if len(files) == 0 {
		slog.Fatalf("no configuration given, use -config or OBS_TREED_CONFIG")
	}
	cfg, err := obscfg.Load(files...)
	if err != nil {
		slog.Fatalf("can not load configuration: %v", err)
	}

	prometheusInit()

	tree, err := buildTree(cfg)
	if err != nil {
		slog.Fatalf("can not build component tree: %v", err)
	}
	bus := msgbus.NewBus(slog, pname)
	solver := obstree.NewRequestSolver(slog, cfg, bus, tree)

	ctx, cancel := context.WithCancel(context.Background())
	if err = solver.RunTree(ctx); err != nil {
		slog.Fatalf("can not start component tree: %v", err)
	}

	router, err := NewRouter(slog, cfg, *routerName, solver)
	if err != nil {
		solver.StopTree()
		slog.Fatalf("can not start router: %v", err)
	}
	done := make(chan struct{})
	go func() {
		router.Run(ctx)
		close(done)
	}()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Infof("signal (%v) received, stopping", s)

	cancel()
	<-done
	solver.StopTree()
}
