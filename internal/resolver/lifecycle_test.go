// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/resolverd/internal/resolver"
)

var _ = Describe("Plugin lifecycle", func() {
	var (
		ctx  context.Context
		path string
		h    *harness
		p    *resolver.Plugin
	)

	settle := func() {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		Expect(p.Flush(flushCtx)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness()
		path = filepath.Join(GinkgoT().TempDir(), "lifecycle.js")
		Expect(os.WriteFile(path, []byte(browsableJS), 0o600)).To(Succeed())
	})

	JustBeforeEach(func() {
		var err error
		p, err = resolver.New(path, h.options()...)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(p.Close(closeCtx)).To(Succeed())
		})
		settle()
	})

	Describe("loading", func() {
		It("becomes ready without registering", func() {
			Expect(p.State()).To(Equal(resolver.StateReady))
			Expect(p.LoadError()).To(Equal(resolver.NoError))
			registered, _ := h.pipeline.registrations()
			Expect(registered).To(BeZero())
		})

		It("announces the collection once capabilities are reported", func() {
			Expect(h.notifier.eventList()).To(Equal([]string{"added:MyLib"}))
		})
	})

	Describe("starting", func() {
		JustBeforeEach(func() {
			p.Start(ctx)
			settle()
		})

		It("registers with the pipeline", func() {
			Expect(p.State()).To(Equal(resolver.StateRunning))
			registered, _ := h.pipeline.registrations()
			Expect(registered).To(Equal(1))
		})

		It("keeps the announced collection", func() {
			Expect(h.notifier.eventList()).To(Equal([]string{"added:MyLib"}))
		})

		Context("then stopping", func() {
			JustBeforeEach(func() {
				p.Resolve(ctx, resolver.Query{ID: "pending", FullText: "x"})
				p.Stop(ctx)
				settle()
			})

			It("retracts collections and unregisters", func() {
				Expect(p.State()).To(Equal(resolver.StateStopped))
				Expect(h.notifier.eventList()).To(ContainElement("removed:MyLib"))
				Expect(p.Collections()).To(BeEmpty())
				_, unregistered := h.pipeline.registrations()
				Expect(unregistered).To(Equal(1))
			})

			It("ignores queries until started again", func() {
				reports := h.pipeline.reportCount()
				p.Resolve(ctx, resolver.Query{ID: "late", Artist: "A", Track: "T"})
				settle()
				Expect(h.pipeline.reportCount()).To(Equal(reports))
			})

			It("restarts without a reload and re-announces", func() {
				p.Start(ctx)
				settle()
				Expect(p.State()).To(Equal(resolver.StateRunning))
				Expect(h.notifier.eventList()).To(HaveLen(3))
				Expect(h.notifier.eventList()[2]).To(Equal("added:MyLib"))
			})
		})
	})

	Describe("reloading", func() {
		Context("when the script disappears", func() {
			JustBeforeEach(func() {
				Expect(os.Remove(path)).To(Succeed())
				p.Reload(ctx)
				settle()
			})

			It("reports FileNotFound and retracts the collection", func() {
				Expect(p.State()).To(Equal(resolver.StateUnloaded))
				Expect(p.LoadError()).To(Equal(resolver.FileNotFound))
				Expect(h.notifier.eventList()).To(Equal([]string{"added:MyLib", "removed:MyLib"}))
			})

			It("recovers once the file returns", func() {
				Expect(os.WriteFile(path, []byte(legacyJS), 0o600)).To(Succeed())
				p.Reload(ctx)
				settle()
				Expect(p.LoadError()).To(Equal(resolver.NoError))
				Expect(p.Name()).To(Equal("Legacy"))
			})
		})

		Context("when the script breaks", func() {
			JustBeforeEach(func() {
				Expect(os.WriteFile(path, []byte("function ("), 0o600)).To(Succeed())
				p.Reload(ctx)
				settle()
			})

			It("reports FailedToLoad and keeps the last descriptor", func() {
				Expect(p.LoadError()).To(Equal(resolver.FailedToLoad))
				Expect(p.Name()).To(Equal("Test JS"))
				_, errs := h.status.counts()
				Expect(errs).To(Equal(1))
			})
		})
	})
})
