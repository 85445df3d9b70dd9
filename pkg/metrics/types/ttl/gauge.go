/*
 * Copyright (c) 2021. Ant Group. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package ttl provides a prometheus.GaugeVec variant whose per-label-set
// children expire and are dropped from export after a configurable idle
// period. Used for per-LFN metrics, where a file's series should vanish
// once nothing has touched it for a while rather than accumulate forever.
package ttl

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTTL is used by callers that don't need a shorter expiry.
const DefaultTTL = 10 * time.Minute

// defaultCleanUpPeriod is a var (not a const) so tests can shrink it.
var defaultCleanUpPeriod = 30 * time.Second

type entry struct {
	gauge   prometheus.Gauge
	lastSet time.Time
}

// GaugeVecWithTTL behaves like a prometheus.GaugeVec, except label
// combinations that haven't been Set since ttl ago are pruned from Collect
// output and from the internal map by a background sweep.
type GaugeVecWithTTL struct {
	mu            sync.Mutex
	opts          prometheus.GaugeOpts
	labelNames    []string
	ttl           time.Duration
	labelValueMap map[string]*entry

	stop chan struct{}
}

// NewGaugeVecWithTTL constructs a GaugeVecWithTTL and starts its cleanup loop.
func NewGaugeVecWithTTL(opts prometheus.GaugeOpts, labelNames []string, ttl time.Duration) *GaugeVecWithTTL {
	g := &GaugeVecWithTTL{
		opts:          opts,
		labelNames:    labelNames,
		ttl:           ttl,
		labelValueMap: make(map[string]*entry),
		stop:          make(chan struct{}),
	}
	go g.cleanupLoop()
	return g
}

func (g *GaugeVecWithTTL) key(lvs []string) string {
	return strings.Join(lvs, "\xff")
}

// WithLabelValues returns the prometheus.Gauge for this label combination,
// creating it if necessary, and refreshes its TTL clock.
func (g *GaugeVecWithTTL) WithLabelValues(lvs ...string) prometheus.Gauge {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := g.key(lvs)
	e, ok := g.labelValueMap[k]
	if !ok {
		labels := make(prometheus.Labels, len(g.labelNames))
		for i, name := range g.labelNames {
			if i < len(lvs) {
				labels[name] = lvs[i]
			}
		}
		e = &entry{
			gauge: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:        g.opts.Name,
				Help:        g.opts.Help,
				ConstLabels: labels,
			}),
		}
		g.labelValueMap[k] = e
	}
	e.lastSet = time.Now()
	return e.gauge
}

// Describe intentionally sends nothing, making GaugeVecWithTTL an unchecked
// collector: its label set (and therefore its descriptors) changes at
// runtime as entries expire, which a checked collector can't express.
func (g *GaugeVecWithTTL) Describe(_ chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector. It does not close ch: the
// caller (a prometheus.Registry during Gather, or a test) owns the channel.
func (g *GaugeVecWithTTL) Collect(ch chan<- prometheus.Metric) {
	g.mu.Lock()
	entries := make([]*entry, 0, len(g.labelValueMap))
	for _, e := range g.labelValueMap {
		entries = append(entries, e)
	}
	g.mu.Unlock()

	for _, e := range entries {
		e.gauge.Collect(ch)
	}
}

func (g *GaugeVecWithTTL) cleanupLoop() {
	ticker := time.NewTicker(defaultCleanUpPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.stop:
			return
		}
	}
}

func (g *GaugeVecWithTTL) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	for k, e := range g.labelValueMap {
		if now.Sub(e.lastSet) > g.ttl {
			delete(g.labelValueMap, k)
		}
	}
}

// Stop ends the background cleanup loop.
func (g *GaugeVecWithTTL) Stop() {
	close(g.stop)
}
