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

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/marcus-qen/tabops/internal/siteconn"
)

var _ = ginkgo.Describe("Session registry", func() {
	var (
		ctx  context.Context
		srv  *fakeServer
		conn *fakeConn
		reg  *Registry
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		srv = newFakeServer()
		conn = srv.conn()
		reg = New(WithLogger(zap.NewNop()), WithBackOff(noDelay))
	})

	ginkgo.Context("before bootstrap", func() {
		ginkgo.It("is not ready and holds nothing", func() {
			Expect(reg.Ready()).To(BeFalse())
			Expect(reg.Sites()).To(BeEmpty())
			Expect(reg.Snapshot()).To(BeEmpty())
		})

		ginkgo.It("still creates sessions lazily", func() {
			tok, err := reg.SwitchTo(ctx, conn, "finance", "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.UserLUID).To(Equal("alice-luid"))
			Expect(reg.Ready()).To(BeFalse())
		})
	})

	ginkgo.Context("after bootstrap", func() {
		ginkgo.BeforeEach(func() {
			ok, err := reg.Bootstrap(ctx, conn)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		ginkgo.It("resolves site LUIDs from the directory", func() {
			Expect(reg.Ready()).To(BeTrue())
			Expect(reg.Sites()).To(HaveKeyWithValue("finance", "luid-finance"))
			luid, ok := reg.SiteLUID("unknown")
			Expect(ok).To(BeFalse())
			Expect(luid).To(BeEmpty())
		})

		ginkgo.It("has no user session until one is created", func() {
			has, err := reg.HasUserSession(ctx, conn, "sales", "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(has).To(BeFalse())
			Expect(srv.signInCount("sales")).To(Equal(1), "presence check creates the site master")

			_, err = reg.SwitchTo(ctx, conn, "sales", "bob")
			Expect(err).NotTo(HaveOccurred())

			has, err = reg.HasUserSession(ctx, conn, "sales", "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(has).To(BeTrue())
			Expect(srv.signInCount("sales")).To(Equal(1))
		})

		ginkgo.It("moves from active back to absent on eviction", func() {
			_, err := reg.SwitchTo(ctx, conn, "finance", "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(reg.Snapshot()).To(HaveLen(3))

			Expect(reg.EvictMaster("finance")).To(BeTrue())
			Expect(reg.EvictUser("finance", "alice")).To(BeTrue())
			Expect(reg.Snapshot()).To(HaveLen(1))

			_, err = reg.SwitchTo(ctx, conn, "finance", "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.signInCount("finance")).To(Equal(2))
			Expect(srv.impersonationCount("finance")).To(Equal(2))
		})

		ginkgo.It("reports a failed bootstrap as not ready", func() {
			srv.signInErr = errUnauthorized
			err := reg.Establish(ctx, srv.conn())

			var estErr *SessionEstablishmentError
			Expect(errors.As(err, &estErr)).To(BeTrue())
			Expect(estErr.Op).To(Equal("bootstrap sign-in"))
			Expect(errors.Is(err, siteconn.ErrSessionInvalid)).To(BeTrue())
			Expect(reg.Ready()).To(BeFalse())
		})
	})

	ginkgo.Context("when the connection is shared across identities", func() {
		ginkgo.It("never leaks the admin token into the caller's identity", func() {
			aliceTok, err := reg.SwitchTo(ctx, conn, "finance", "alice")
			Expect(err).NotTo(HaveOccurred())

			_, err = reg.EnsureMasterSession(ctx, conn, "sales")
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.Token()).To(Equal(aliceTok))
			Expect(conn.Site()).To(Equal("finance"))
		})
	})
})
