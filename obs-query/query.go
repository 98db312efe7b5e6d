/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

/*
 * obs-query is the operator's one-shot client for a running obs.treed:
 * read or write a single tree address, or probe the router for liveness.
 */

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"obs/common/obsclient"
	"obs/common/obsmsg"
	"obs/common/obsutil"
)

const pname = "obs-query"

var (
	server   string
	userName string
	window   float64
)

func connect() (*obsclient.Client, error) {
	return obsclient.New(obsutil.NewLogger(), server, userName)
}

func printResponse(resp *obsmsg.ValueResponse) error {
	if resp.Err != nil {
		return errors.Errorf("request failed: %s", resp.Err)
	}
	if resp.Value == nil {
		return errors.New("request produced no value")
	}
	out, err := json.MarshalIndent(resp.Value.V, "", "  ")
	if err != nil {
		return errors.Wrap(err, "formatting value")
	}
	fmt.Printf("%s\n", out)
	return nil
}

func doGet(cmd *cobra.Command, args []string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Get(args[0], window)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

// parseParams reads key=value arguments, taking each value as JSON when it
// parses and as a plain string when it does not.
func parseParams(args []string) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(args))
	for _, arg := range args {
		kv := strings.SplitN(arg, "=", 2)
		if len(kv) != 2 {
			return nil, errors.Errorf("malformed parameter %q, want key=value", arg)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(kv[1]), &v); err != nil {
			v = kv[1]
		}
		params[kv[0]] = v
	}
	return params, nil
}

func doPut(cmd *cobra.Command, args []string) error {
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Put(args[0], params, window)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func doAlive(cmd *cobra.Command, args []string) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	alive, err := c.IsAlive(window)
	if err != nil {
		return err
	}
	if !alive {
		return errors.New("server did not confirm liveness")
	}
	fmt.Println("alive")
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           pname,
		Short:         "query a running observatory request server",
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&server, "server",
		"tcp://localhost:5559", "router address")
	rootCmd.PersistentFlags().StringVar(&userName, "user",
		pname, "user name stamped on requests")
	rootCmd.PersistentFlags().Float64Var(&window, "timeout",
		5.0, "request window in seconds")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "get <address>",
		Short: "read one tree address",
		Args:  cobra.ExactArgs(1),
		RunE:  doGet,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "put <address> [key=value ...]",
		Short: "write one tree address",
		Args:  cobra.MinimumNArgs(1),
		RunE:  doPut,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "alive",
		Short: "probe the router for liveness",
		Args:  cobra.NoArgs,
		RunE:  doAlive,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", pname, err)
		os.Exit(1)
	}
}
