/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// answer is the common shape of every Alpaca response body.
type answer struct {
	Value        interface{} `json:"Value"`
	ErrorNumber  int         `json:"ErrorNumber"`
	ErrorMessage string      `json:"ErrorMessage"`
}

// Connector speaks the Alpaca REST protocol.  Every request carries the
// connector's random ClientID and an incrementing ClientTransactionID, the
// way the protocol asks clients to identify themselves.
type Connector struct {
	slog     *zap.SugaredLogger
	client   *http.Client
	clientID int
	txnID    uint32
}

// NewConnector builds a connector with a persistent HTTP client.
func NewConnector(slog *zap.SugaredLogger) *Connector {
	c := &Connector{
		slog:     slog,
		client:   &http.Client{},
		clientID: rand.Intn(65536),
	}
	slog.Infof("alpaca connector created, ClientId=%d", c.clientID)
	return c
}

// Close drops idle upstream connections.
func (c *Connector) Close() {
	c.client.CloseIdleConnections()
}

func (c *Connector) nextTxn() uint32 {
	return atomic.AddUint32(&c.txnID, 1)
}

func deviceURL(d *Device, kind, attribute string) string {
	return strings.Join([]string{d.BaseURL(), kind, strconv.Itoa(d.DeviceNumber()), attribute}, "/")
}

// Get sends an HTTP GET for one device attribute and returns the Value
// field of the answer.
func (c *Connector) Get(ctx context.Context, d *Device, kind, attribute string,
	params map[string]interface{}) (interface{}, error) {

	u := deviceURL(d, kind, attribute)
	q := url.Values{}
	for k, v := range params {
		q.Set(k, formatParam(v))
	}
	c.stamp(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "building alpaca request")
	}
	return c.do(req)
}

// Put sends an HTTP PUT for one device attribute with form-encoded
// parameters and returns the Value field of the answer.
func (c *Connector) Put(ctx context.Context, d *Device, kind, attribute string,
	params map[string]interface{}) (interface{}, error) {

	u := deviceURL(d, kind, attribute)
	form := url.Values{}
	for k, v := range params {
		form.Set(k, formatParam(v))
	}
	c.stamp(form)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "building alpaca request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Connector) stamp(v url.Values) {
	v.Set("ClientID", strconv.Itoa(c.clientID))
	v.Set("ClientTransactionID", strconv.Itoa(int(c.nextTxn())))
}

func (c *Connector) do(req *http.Request) (interface{}, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		c.slog.Errorf("connection to %s failed: %v", req.URL, err)
		return nil, err
	}
	defer func() {
		io.Copy(ioutil.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		c.slog.Errorf("alpaca HTTP 400 error for %s", req.URL)
		return nil, &HTTPError{Status: resp.StatusCode, Reason: readReason(resp)}
	case resp.StatusCode == http.StatusInternalServerError:
		c.slog.Errorf("alpaca HTTP 500 error for %s", req.URL)
		return nil, &HTTPError{Status: resp.StatusCode, Reason: readReason(resp)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.slog.Errorf("alpaca HTTP %d error for %s", resp.StatusCode, req.URL)
		return nil, &HTTPError{Status: resp.StatusCode, Reason: resp.Status}
	}

	var a answer
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		c.slog.Errorf("alpaca content type error for %s", req.URL)
		return nil, ErrContentType
	}
	if a.ErrorNumber != 0 {
		c.slog.Errorf("alpaca error, code=%d, msg=%s", a.ErrorNumber, a.ErrorMessage)
		return nil, &DriverError{Number: a.ErrorNumber, Message: a.ErrorMessage}
	}
	return a.Value, nil
}

func readReason(resp *http.Response) string {
	raw, err := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil || len(raw) == 0 {
		return resp.Status
	}
	return strings.TrimSpace(string(raw))
}

func formatParam(v interface{}) string {
	switch p := v.(type) {
	case string:
		return p
	case bool:
		if p {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(p), 'f', -1, 32)
	}
	if n, ok := asFloat(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}
