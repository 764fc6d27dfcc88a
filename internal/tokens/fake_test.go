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
	"fmt"
	"net/http"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/marcus-qen/tabops/internal/siteconn"
)

var errUnauthorized = &siteconn.APIError{StatusCode: http.StatusUnauthorized, Code: "401002", Summary: "Unauthorized Access"}

// fakeServer records the requests made by every fakeConn attached to it.
type fakeServer struct {
	mu sync.Mutex

	sites []siteconn.Site
	users map[string]string

	signIns        map[string]int
	impersonations map[string]int
	lookups        int
	listings       int
	seq            int

	// signInErrs is consumed one error per sign-in before signInErr applies.
	signInErrs  []error
	signInErr   error
	signInAsErr error
	lookupErr   error
	// rejected tokens fail user lookups with a 401.
	rejected map[string]bool

	// gate holds sign-ins and impersonateGate holds impersonations until closed.
	gate            chan struct{}
	impersonateGate chan struct{}
	entered         chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		sites: []siteconn.Site{
			{LUID: "luid-default", Name: "Default", ContentURL: ""},
			{LUID: "luid-finance", Name: "Finance", ContentURL: "finance"},
			{LUID: "luid-sales", Name: "Sales", ContentURL: "sales"},
		},
		users:          map[string]string{"alice": "alice-luid", "bob": "bob-luid"},
		signIns:        make(map[string]int),
		impersonations: make(map[string]int),
		rejected:       make(map[string]bool),
	}
}

func (s *fakeServer) conn() *fakeConn { return &fakeConn{srv: s} }

func (s *fakeServer) signInCount(site string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signIns[site]
}

func (s *fakeServer) impersonationCount(site string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.impersonations[site]
}

func (s *fakeServer) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func (s *fakeServer) reject(tok siteconn.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[tok.Value] = true
}

func (s *fakeServer) siteLUID(site string) string {
	for _, st := range s.sites {
		if st.ContentURL == site {
			return st.LUID
		}
	}
	return "luid-" + site
}

// fakeConn implements Connection against a fakeServer.
type fakeConn struct {
	srv   *fakeServer
	token siteconn.Token
	site  string
}

func (c *fakeConn) SignIn(ctx context.Context) error {
	s := c.srv
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signIns[c.site]++
	if len(s.signInErrs) > 0 {
		err := s.signInErrs[0]
		s.signInErrs = s.signInErrs[1:]
		if err != nil {
			return err
		}
	} else if s.signInErr != nil {
		return s.signInErr
	}
	s.seq++
	c.token = siteconn.Token{
		Value:    fmt.Sprintf("master-%s-%d", c.site, s.seq),
		UserLUID: "admin-luid",
		SiteLUID: s.siteLUID(c.site),
	}
	return nil
}

func (c *fakeConn) SignInAs(ctx context.Context, userLUID string) error {
	s := c.srv
	if s.impersonateGate != nil {
		select {
		case <-s.impersonateGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.impersonations[c.site]++
	if s.signInAsErr != nil {
		return s.signInAsErr
	}
	s.seq++
	c.token = siteconn.Token{
		Value:    fmt.Sprintf("user-%s-%s-%d", c.site, userLUID, s.seq),
		UserLUID: userLUID,
		SiteLUID: s.siteLUID(c.site),
	}
	return nil
}

func (c *fakeConn) LookupUserLUID(_ context.Context, username string) (string, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if c.token.IsZero() || s.rejected[c.token.Value] {
		return "", errUnauthorized
	}
	if s.lookupErr != nil {
		return "", s.lookupErr
	}
	luid, ok := s.users[username]
	if !ok {
		return "", fmt.Errorf("user %q: %w", username, siteconn.ErrNotFound)
	}
	return luid, nil
}

func (c *fakeConn) ListSites(context.Context) ([]siteconn.Site, error) {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings++
	return append([]siteconn.Site(nil), s.sites...), nil
}

func (c *fakeConn) Token() siteconn.Token     { return c.token }
func (c *fakeConn) SetToken(t siteconn.Token) { c.token = t }
func (c *fakeConn) Site() string              { return c.site }
func (c *fakeConn) SetSite(site string)       { c.site = site }

func noDelay() backoff.BackOff { return &backoff.ZeroBackOff{} }
