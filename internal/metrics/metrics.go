/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the session token registry.
//
// Collectors are package-level and registered explicitly with Register so
// that the embedding process decides which registry serves them.
//
// Metric naming follows Prometheus conventions:
//   - tabops_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Session kinds used as the "kind" label.
const (
	KindBootstrap   = "bootstrap"
	KindMaster      = "master"
	KindUser        = "user"
	KindLookup      = "lookup"
	KindSiteListing = "sites"
)

var (
	// RequestsTotal counts session-management requests (sign-in, impersonation,
	// user lookup, site listing) by kind and outcome. Retries count separately.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabops_session_requests_total",
			Help: "Session-management requests to the server by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// SignInDurationSeconds is a histogram of successful session establishment time.
	SignInDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabops_sign_in_duration_seconds",
			Help:    "Time to establish a session, retries included.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)

	// CacheLookupsTotal counts registry cache lookups by kind and result.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabops_session_cache_lookups_total",
			Help: "Session cache lookups by session kind and result (hit/miss).",
		},
		[]string{"kind", "result"},
	)

	// EvictionsTotal counts explicit evictions by kind.
	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabops_session_evictions_total",
			Help: "Sessions evicted after being reported invalid.",
		},
		[]string{"kind"},
	)

	// CachedSessions is the number of sessions currently cached by kind.
	CachedSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tabops_cached_sessions",
			Help: "Number of sessions currently held by the registry.",
		},
		[]string{"kind"},
	)
)

var collectors = []prometheus.Collector{
	RequestsTotal,
	SignInDurationSeconds,
	CacheLookupsTotal,
	EvictionsTotal,
	CachedSessions,
}

// Register registers every collector with reg. Collectors that are already
// registered are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordRequest records a single request attempt.
func RecordRequest(kind string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	RequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordEstablished records the time taken to establish a session.
func RecordEstablished(kind string, d time.Duration) {
	SignInDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// RecordEviction records an explicit eviction.
func RecordEviction(kind string) {
	EvictionsTotal.WithLabelValues(kind).Inc()
}

// SetCachedSessions records the current cache size for kind.
func SetCachedSessions(kind string, n int) {
	CachedSessions.WithLabelValues(kind).Set(float64(n))
}
