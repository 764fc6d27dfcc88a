/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package tokens

import (
	"errors"
	"fmt"
)

// ErrMisconfigured is returned when the registry is called with a nil
// connection or an empty principal. It is never retried.
var ErrMisconfigured = errors.New("session registry misconfigured")

// SessionEstablishmentError reports a sign-in, impersonation or lookup that
// failed on both attempts. Err carries the last underlying cause.
type SessionEstablishmentError struct {
	Op        string
	Site      string
	Principal string
	Attempts  int
	Err       error
}

func (e *SessionEstablishmentError) Error() string {
	who := "site " + quoteSite(e.Site)
	if e.Principal != "" {
		who = fmt.Sprintf("user %q on %s", e.Principal, who)
	}
	return fmt.Sprintf("%s for %s failed after %d attempt(s): %v", e.Op, who, e.Attempts, e.Err)
}

func (e *SessionEstablishmentError) Unwrap() error { return e.Err }

func quoteSite(site string) string {
	if site == "" {
		return "(default)"
	}
	return fmt.Sprintf("%q", site)
}
