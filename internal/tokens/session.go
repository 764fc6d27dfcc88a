/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package tokens

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/marcus-qen/tabops/internal/metrics"
	"github.com/marcus-qen/tabops/internal/siteconn"
	"github.com/marcus-qen/tabops/internal/telemetry"
)

// Bootstrap signs conn in to its current site, loads the site directory and
// marks the registry ready. Establishment failures are logged and reported as
// false; the only error returned is ErrMisconfigured.
func (r *Registry) Bootstrap(ctx context.Context, conn Connection) (bool, error) {
	if err := r.Establish(ctx, conn); err != nil {
		if errors.Is(err, ErrMisconfigured) {
			return false, err
		}
		r.logger.Error("bootstrap failed", zap.Error(err))
		return false, nil
	}
	return true, nil
}

// Establish is Bootstrap with the failure returned as an error.
func (r *Registry) Establish(ctx context.Context, conn Connection) error {
	if isNil(conn) {
		return fmt.Errorf("bootstrap: nil connection: %w", ErrMisconfigured)
	}
	site := conn.Site()
	start := r.now()

	err := r.bootstrap(ctx, conn, site)

	r.mu.Lock()
	r.ready = err == nil
	r.mu.Unlock()
	if err != nil {
		return err
	}

	metrics.RecordEstablished(metrics.KindBootstrap, r.now().Sub(start))
	r.storeMaster(Entry{Site: site, Token: conn.Token(), EstablishedAt: r.now()})
	r.logger.Info("bootstrap complete",
		zap.String("site", site),
		zap.Int("sites", len(r.Sites())),
	)
	return nil
}

func (r *Registry) bootstrap(ctx context.Context, conn Connection, site string) error {
	ctx, span := telemetry.StartSignInSpan(ctx, metrics.KindBootstrap, site, "")
	attempts, err := r.retry(ctx, metrics.KindBootstrap, conn.SignIn)
	telemetry.EndSignInSpan(span, attempts, err)
	if err != nil {
		return &SessionEstablishmentError{Op: "bootstrap sign-in", Site: site, Attempts: attempts, Err: err}
	}

	var directory []siteconn.Site
	attempts, err = r.retry(ctx, metrics.KindSiteListing, func(ctx context.Context) error {
		sites, err := conn.ListSites(ctx)
		if err == nil {
			directory = sites
		}
		return err
	})
	if err != nil {
		return &SessionEstablishmentError{Op: "site listing", Site: site, Attempts: attempts, Err: err}
	}

	r.mu.Lock()
	for _, s := range directory {
		r.sites[s.ContentURL] = s.LUID
	}
	r.mu.Unlock()
	return nil
}

// EnsureMasterSession returns the cached master session for site, signing in
// as the admin when none exists. The connection's token and site are the same
// on return as they were on entry.
func (r *Registry) EnsureMasterSession(ctx context.Context, conn Connection, site string) (Entry, error) {
	if isNil(conn) {
		return Entry{}, fmt.Errorf("ensure master session: nil connection: %w", ErrMisconfigured)
	}
	if e, ok := r.master(site); ok {
		metrics.RecordCacheLookup(metrics.KindMaster, true)
		return e, nil
	}
	metrics.RecordCacheLookup(metrics.KindMaster, false)

	return r.flight(ctx, masterKey(site), func() (Entry, error) {
		if e, ok := r.master(site); ok {
			return e, nil
		}
		return r.establishMaster(ctx, conn, site)
	})
}

func (r *Registry) establishMaster(ctx context.Context, conn Connection, site string) (Entry, error) {
	ctx, span := telemetry.StartSignInSpan(ctx, metrics.KindMaster, site, "")

	prevToken, prevSite := conn.Token(), conn.Site()
	defer func() {
		conn.SetToken(prevToken)
		conn.SetSite(prevSite)
	}()
	conn.SetToken(siteconn.Token{})
	conn.SetSite(site)

	start := r.now()
	attempts, err := r.retry(ctx, metrics.KindMaster, conn.SignIn)
	telemetry.EndSignInSpan(span, attempts, err)
	if err != nil {
		return Entry{}, &SessionEstablishmentError{Op: "master sign-in", Site: site, Attempts: attempts, Err: err}
	}

	e := Entry{Site: site, Token: conn.Token(), EstablishedAt: r.now()}
	metrics.RecordEstablished(metrics.KindMaster, e.EstablishedAt.Sub(start))
	r.storeMaster(e)
	r.logger.Info("master session established",
		zap.String("site", site),
		zap.String("token", e.Token.Masked()),
		zap.Int("attempts", attempts),
	)
	return e, nil
}

// HasUserSession reports whether a session for principal on site is cached.
// The site's master session is created first if it does not exist yet.
func (r *Registry) HasUserSession(ctx context.Context, conn Connection, site, principal string) (bool, error) {
	if _, err := r.EnsureMasterSession(ctx, conn, site); err != nil {
		return false, err
	}
	_, ok := r.user(site, principal)
	return ok, nil
}

// EnsureUserSession returns the cached session for principal on site,
// impersonating the user through the site's master session when none exists.
// After a fresh impersonation the connection carries the new user token on
// site. A cached session is returned without touching the connection.
func (r *Registry) EnsureUserSession(ctx context.Context, conn Connection, site, principal string) (Entry, error) {
	if isNil(conn) {
		return Entry{}, fmt.Errorf("ensure user session: nil connection: %w", ErrMisconfigured)
	}
	if principal == "" {
		return Entry{}, fmt.Errorf("ensure user session: empty principal: %w", ErrMisconfigured)
	}
	master, err := r.EnsureMasterSession(ctx, conn, site)
	if err != nil {
		return Entry{}, err
	}
	if e, ok := r.user(site, principal); ok {
		metrics.RecordCacheLookup(metrics.KindUser, true)
		return e, nil
	}
	metrics.RecordCacheLookup(metrics.KindUser, false)

	return r.flight(ctx, userKey(site, principal), func() (Entry, error) {
		if e, ok := r.user(site, principal); ok {
			return e, nil
		}
		return r.establishUser(ctx, conn, site, principal, master)
	})
}

func (r *Registry) establishUser(ctx context.Context, conn Connection, site, principal string, master Entry) (Entry, error) {
	ctx, span := telemetry.StartSignInSpan(ctx, metrics.KindUser, site, principal)

	userLUID, err := r.resolveUser(ctx, conn, site, principal, master)
	if err != nil {
		telemetry.EndSignInSpan(span, 0, err)
		return Entry{}, err
	}

	conn.SetToken(siteconn.Token{})
	conn.SetSite(site)
	start := r.now()
	attempts, err := r.retry(ctx, metrics.KindUser, func(ctx context.Context) error {
		return conn.SignInAs(ctx, userLUID)
	})
	telemetry.EndSignInSpan(span, attempts, err)
	if err != nil {
		return Entry{}, &SessionEstablishmentError{
			Op: "impersonated sign-in", Site: site, Principal: principal, Attempts: attempts, Err: err,
		}
	}

	e := Entry{Site: site, Principal: principal, Token: conn.Token(), EstablishedAt: r.now()}
	metrics.RecordEstablished(metrics.KindUser, e.EstablishedAt.Sub(start))
	r.storeUser(e)
	r.logger.Info("user session established",
		zap.String("site", site),
		zap.String("principal", principal),
		zap.String("token", e.Token.Masked()),
		zap.Int("attempts", attempts),
	)
	return e, nil
}

// resolveUser looks up the user LUID while acting as the site master. A
// master token rejected on both attempts is replaced once and the lookup
// repeated a single time.
func (r *Registry) resolveUser(ctx context.Context, conn Connection, site, principal string, master Entry) (string, error) {
	var luid string
	lookup := func(ctx context.Context) error {
		id, err := conn.LookupUserLUID(ctx, principal)
		if err == nil {
			luid = id
		}
		return err
	}

	switchConn(conn, master)
	attempts, err := r.retry(ctx, metrics.KindLookup, lookup)
	if err == nil {
		return luid, nil
	}
	if !errors.Is(err, siteconn.ErrSessionInvalid) {
		return "", lookupError(site, principal, attempts, err)
	}

	r.logger.Warn("master session rejected during user lookup, re-establishing",
		zap.String("site", site),
		zap.String("principal", principal),
	)
	r.EvictMaster(site)
	master, err = r.EnsureMasterSession(ctx, conn, site)
	if err != nil {
		return "", err
	}
	switchConn(conn, master)
	err = lookup(ctx)
	metrics.RecordRequest(metrics.KindLookup, err)
	if err != nil {
		return "", lookupError(site, principal, attempts+1, err)
	}
	return luid, nil
}

func lookupError(site, principal string, attempts int, err error) error {
	if errors.Is(err, siteconn.ErrNotFound) {
		return fmt.Errorf("user %q on site %s: %w", principal, quoteSite(site), err)
	}
	return &SessionEstablishmentError{Op: "user lookup", Site: site, Principal: principal, Attempts: attempts, Err: err}
}

func switchConn(conn Connection, e Entry) {
	conn.SetSite(e.Site)
	conn.SetToken(e.Token)
}
