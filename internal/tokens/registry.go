/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package tokens caches server sessions per site and per impersonated user.
//
// A Registry owns two kinds of entries:
//   - master sessions, one per site, signed in with the admin credentials
//   - user sessions, one per (site, principal), obtained by impersonation
//
// Entries are created lazily and live until evicted. The registry never
// refreshes a session on its own; a caller that sees a rejected credential
// evicts the entry and switches again.
package tokens

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/marcus-qen/tabops/internal/metrics"
	"github.com/marcus-qen/tabops/internal/siteconn"
)

// DefaultRetryDelay is the pause before the single retry of a failed request.
const DefaultRetryDelay = 500 * time.Millisecond

// Connection is the live site connection the registry signs in with and
// switches between identities. Implementations are not expected to be safe
// for concurrent identity switching.
type Connection interface {
	SignIn(ctx context.Context) error
	SignInAs(ctx context.Context, userLUID string) error
	LookupUserLUID(ctx context.Context, username string) (string, error)
	ListSites(ctx context.Context) ([]siteconn.Site, error)
	Token() siteconn.Token
	SetToken(siteconn.Token)
	Site() string
	SetSite(contentURL string)
}

var _ Connection = (*siteconn.Client)(nil)

// Entry is a cached session. Principal is empty for a master session.
type Entry struct {
	Site          string
	Principal     string
	Token         siteconn.Token
	EstablishedAt time.Time
}

// IsMaster reports whether e is a site master session.
func (e Entry) IsMaster() bool { return e.Principal == "" }

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRetryDelay sets a constant delay before the single retry.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Registry) {
		r.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(d) }
	}
}

// WithBackOff replaces the retry delay policy. The registry still caps it at
// one retry.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newBackOff = fn
		}
	}
}

// WithClock overrides the clock used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry caches master and user sessions. It is safe for concurrent use;
// establishment of a given key happens at most once at a time while
// different keys proceed in parallel.
type Registry struct {
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
	now        func() time.Time
	group      singleflight.Group

	mu      sync.RWMutex
	ready   bool
	sites   map[string]string
	masters map[string]Entry
	users   map[string]map[string]Entry
}

// New returns an empty, not-ready registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:     zap.NewNop(),
		newBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(DefaultRetryDelay) },
		now:        time.Now,
		sites:      make(map[string]string),
		masters:    make(map[string]Entry),
		users:      make(map[string]map[string]Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("tokens")
	return r
}

// Ready reports whether the last bootstrap succeeded.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// SiteLUID resolves a site content URL through the directory fetched at bootstrap.
func (r *Registry) SiteLUID(contentURL string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	luid, ok := r.sites[contentURL]
	return luid, ok
}

// Sites returns a copy of the site directory keyed by content URL.
func (r *Registry) Sites() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.sites))
	for k, v := range r.sites {
		out[k] = v
	}
	return out
}

// EvictMaster drops the cached master session for site. It reports whether
// an entry was removed.
func (r *Registry) EvictMaster(site string) bool {
	r.mu.Lock()
	_, ok := r.masters[site]
	delete(r.masters, site)
	r.updateGaugesLocked()
	r.mu.Unlock()

	if ok {
		metrics.RecordEviction(metrics.KindMaster)
		r.logger.Info("evicted master session", zap.String("site", site))
	}
	return ok
}

// EvictUser drops the cached session for principal on site. It reports
// whether an entry was removed.
func (r *Registry) EvictUser(site, principal string) bool {
	r.mu.Lock()
	bySite := r.users[site]
	_, ok := bySite[principal]
	if ok {
		delete(bySite, principal)
		if len(bySite) == 0 {
			delete(r.users, site)
		}
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	if ok {
		metrics.RecordEviction(metrics.KindUser)
		r.logger.Info("evicted user session", zap.String("site", site), zap.String("principal", principal))
	}
	return ok
}

// SnapshotEntry is a diagnostic view of one cached session.
type SnapshotEntry struct {
	Site          string    `json:"site"`
	Principal     string    `json:"principal,omitempty"`
	UserLUID      string    `json:"userLuid"`
	SiteLUID      string    `json:"siteLuid"`
	Token         string    `json:"token"`
	EstablishedAt time.Time `json:"establishedAt"`
}

// Snapshot lists every cached session with masked tokens, ordered by site
// with the master entry first.
func (r *Registry) Snapshot() []SnapshotEntry {
	r.mu.RLock()
	out := make([]SnapshotEntry, 0, len(r.masters))
	for _, e := range r.masters {
		out = append(out, snapshotOf(e))
	}
	for _, bySite := range r.users {
		for _, e := range bySite {
			out = append(out, snapshotOf(e))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].Principal < out[j].Principal
	})
	return out
}

func snapshotOf(e Entry) SnapshotEntry {
	return SnapshotEntry{
		Site:          e.Site,
		Principal:     e.Principal,
		UserLUID:      e.Token.UserLUID,
		SiteLUID:      e.Token.SiteLUID,
		Token:         e.Token.Masked(),
		EstablishedAt: e.EstablishedAt,
	}
}

func (r *Registry) master(site string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.masters[site]
	return e, ok
}

func (r *Registry) user(site, principal string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[site][principal]
	return e, ok
}

func (r *Registry) storeMaster(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.masters[e.Site] = e
	if _, known := r.sites[e.Site]; !known && e.Token.SiteLUID != "" {
		r.sites[e.Site] = e.Token.SiteLUID
	}
	r.updateGaugesLocked()
}

func (r *Registry) storeUser(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bySite, ok := r.users[e.Site]
	if !ok {
		bySite = make(map[string]Entry)
		r.users[e.Site] = bySite
	}
	bySite[e.Principal] = e
	r.updateGaugesLocked()
}

func (r *Registry) updateGaugesLocked() {
	n := 0
	for _, bySite := range r.users {
		n += len(bySite)
	}
	metrics.SetCachedSessions(metrics.KindMaster, len(r.masters))
	metrics.SetCachedSessions(metrics.KindUser, n)
}

func masterKey(site string) string { return "master\x00" + site }

func userKey(site, principal string) string { return "user\x00" + site + "\x00" + principal }

// flight runs fn once per key across concurrent callers. Each caller stops
// waiting when its own ctx is done. A caller whose ctx is still live does not
// inherit another caller's cancellation: it joins or starts a fresh flight.
func (r *Registry) flight(ctx context.Context, key string, fn func() (Entry, error)) (Entry, error) {
	for {
		ran := false
		ch := r.group.DoChan(key, func() (any, error) {
			ran = true
			return fn()
		})
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(Entry), nil
			}
			if !ran && ctx.Err() == nil && isContextErr(res.Err) {
				r.logger.Debug("in-flight establishment was cancelled by its caller, retrying", zap.String("key", key))
				continue
			}
			return Entry{}, res.Err
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isNil(conn Connection) bool {
	if conn == nil {
		return true
	}
	c, ok := conn.(*siteconn.Client)
	return ok && c == nil
}
