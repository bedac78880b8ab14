// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/resolverd/internal/plugin"
	"github.com/holomush/resolverd/internal/resolver"
)

var _ = Describe("Manager script watching", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		dir     string
		script  string
		manager *plugin.Manager
	)

	write := func(name string) {
		Expect(os.WriteFile(script, []byte(fmt.Sprintf(minimalJS, name)), 0o600)).To(Succeed())
	}

	nameOf := func() string {
		p, ok := manager.Get("watched")
		Expect(ok).To(BeTrue())
		Expect(p.Flush(ctx)).To(Succeed())
		return p.Name()
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		dir = GinkgoT().TempDir()
		script = filepath.Join(dir, "watched.js")
		write("Original")

		var err error
		manager, err = plugin.NewManager(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(manager.LoadAll(ctx)).To(Succeed())
		manager.StartAll(ctx)
		Expect(manager.Flush(ctx)).To(Succeed())
		Expect(manager.Watch(ctx, 100*time.Millisecond)).To(Succeed())
	})

	AfterEach(func() {
		Expect(manager.Close(ctx)).To(Succeed())
		cancel()
	})

	It("reloads a plugin when its script changes", func() {
		Expect(nameOf()).To(Equal("Original"))

		write("Rewritten After Edit")

		Eventually(nameOf).WithTimeout(5 * time.Second).WithPolling(100 * time.Millisecond).
			Should(Equal("Rewritten After Edit"))
		p, _ := manager.Get("watched")
		Expect(p.State()).To(Equal(resolver.StateRunning))
	})

	It("surfaces a deleted script as file not found", func() {
		Expect(os.Remove(script)).To(Succeed())

		Eventually(func() resolver.ErrorKind {
			p, _ := manager.Get("watched")
			Expect(p.Flush(ctx)).To(Succeed())
			return p.LoadError()
		}).WithTimeout(5 * time.Second).WithPolling(100 * time.Millisecond).
			Should(Equal(resolver.FileNotFound))
		Expect(manager.Ready()).To(BeFalse())
	})
})
