/*
 * Copyright (c) 2021. Ant Group. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xrootd/xrootd-sub004/internal/logging"
	"github.com/xrootd/xrootd-sub004/pkg/metrics/registry"
)

// Endpoint for prometheus metrics.
var endpointPromMetrics = "/v1/metrics"

// NewMetricsHTTPListener starts an HTTP server bound to addr exporting the
// process's Prometheus registry. It blocks until the listener errors out.
func NewMetricsHTTPListener(addr string) error {
	if addr == "" {
		return fmt.Errorf("the address for metrics HTTP server is invalid")
	}

	mux := http.NewServeMux()
	mux.Handle(endpointPromMetrics, promhttp.HandlerFor(registry.Registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))

	logging.L.Infof("Start metrics HTTP server on %s", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		return fmt.Errorf("error serve on %s: %v", addr, err)
	}

	return nil
}
