// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/resolverd/internal/store"
)

var _ = Describe("PostgresConfigStore", func() {
	var s *store.PostgresConfigStore

	BeforeEach(func() {
		s = store.NewPostgresConfigStore(pool)
		_, err := pool.Exec(suiteCtx, `TRUNCATE plugin_configs`)
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns an empty config for an unknown plugin", func() {
		cfg, err := s.Load(suiteCtx, "nobody")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(BeEmpty())
	})

	It("round-trips saved configuration", func() {
		Expect(s.Save(suiteCtx, "spotify", map[string]any{"user": "alice", "hq": true})).To(Succeed())

		cfg, err := s.Load(suiteCtx, "spotify")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(map[string]any{"user": "alice", "hq": true}))
	})

	It("replaces configuration and bumps the revision", func() {
		Expect(s.Save(suiteCtx, "spotify", map[string]any{"user": "alice"})).To(Succeed())
		Expect(s.Save(suiteCtx, "spotify", map[string]any{"user": "bob"})).To(Succeed())

		cfg, err := s.Load(suiteCtx, "spotify")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(HaveKeyWithValue("user", "bob"))

		var revision int64
		Expect(pool.QueryRow(suiteCtx,
			`SELECT revision FROM plugin_configs WHERE plugin = $1`, "spotify").Scan(&revision)).To(Succeed())
		Expect(revision).To(Equal(int64(2)))
	})

	It("lists plugins with stored configuration", func() {
		Expect(s.Save(suiteCtx, "spotify", nil)).To(Succeed())
		Expect(s.Save(suiteCtx, "lastfm", nil)).To(Succeed())

		plugins, err := s.Plugins(suiteCtx)
		Expect(err).NotTo(HaveOccurred())
		Expect(plugins).To(Equal([]string{"lastfm", "spotify"}))
	})
})
