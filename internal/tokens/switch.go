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

	"go.uber.org/zap"

	"github.com/marcus-qen/tabops/internal/siteconn"
	"github.com/marcus-qen/tabops/internal/telemetry"
)

// SwitchTo points conn at principal's session on site, creating the session
// if needed, and returns the token now carried by conn.
func (r *Registry) SwitchTo(ctx context.Context, conn Connection, site, principal string) (siteconn.Token, error) {
	ctx, span := telemetry.StartSwitchSpan(ctx, site, principal)

	has, err := r.HasUserSession(ctx, conn, site, principal)
	if err != nil {
		telemetry.EndSwitchSpan(span, false, err)
		return siteconn.Token{}, err
	}

	var (
		e  Entry
		ok bool
	)
	if has {
		e, ok = r.user(site, principal)
	}
	if !ok {
		e, err = r.EnsureUserSession(ctx, conn, site, principal)
		if err != nil {
			telemetry.EndSwitchSpan(span, false, err)
			return siteconn.Token{}, err
		}
	}

	switchConn(conn, e)
	telemetry.EndSwitchSpan(span, ok, nil)
	r.logger.Debug("switched connection",
		zap.String("site", site),
		zap.String("principal", principal),
		zap.Bool("cached", ok),
	)
	return e.Token, nil
}

// SwitchToSiteMaster points conn at the admin session for site, creating it
// if needed, and returns the token now carried by conn.
func (r *Registry) SwitchToSiteMaster(ctx context.Context, conn Connection, site string) (siteconn.Token, error) {
	ctx, span := telemetry.StartSwitchSpan(ctx, site, "")

	_, cached := r.master(site)
	e, err := r.EnsureMasterSession(ctx, conn, site)
	if err != nil {
		telemetry.EndSwitchSpan(span, false, err)
		return siteconn.Token{}, err
	}

	switchConn(conn, e)
	telemetry.EndSwitchSpan(span, cached, nil)
	r.logger.Debug("switched connection to site master",
		zap.String("site", site),
		zap.Bool("cached", cached),
	)
	return e.Token, nil
}

// WithUserSession switches conn to principal on site and calls fn. If fn
// reports siteconn.ErrSessionInvalid the user entry is evicted, the session
// re-established and fn called once more.
func (r *Registry) WithUserSession(ctx context.Context, conn Connection, site, principal string, fn func(context.Context, siteconn.Token) error) error {
	tok, err := r.SwitchTo(ctx, conn, site, principal)
	if err != nil {
		return err
	}
	err = fn(ctx, tok)
	if !errors.Is(err, siteconn.ErrSessionInvalid) {
		return err
	}

	r.logger.Info("user session rejected, re-establishing",
		zap.String("site", site),
		zap.String("principal", principal),
	)
	r.EvictUser(site, principal)
	if tok, err = r.SwitchTo(ctx, conn, site, principal); err != nil {
		return err
	}
	return fn(ctx, tok)
}

// WithMasterSession is WithUserSession for the site master session.
func (r *Registry) WithMasterSession(ctx context.Context, conn Connection, site string, fn func(context.Context, siteconn.Token) error) error {
	tok, err := r.SwitchToSiteMaster(ctx, conn, site)
	if err != nil {
		return err
	}
	err = fn(ctx, tok)
	if !errors.Is(err, siteconn.ErrSessionInvalid) {
		return err
	}

	r.logger.Info("master session rejected, re-establishing", zap.String("site", site))
	r.EvictMaster(site)
	if tok, err = r.SwitchToSiteMaster(ctx, conn, site); err != nil {
		return err
	}
	return fn(ctx, tok)
}
