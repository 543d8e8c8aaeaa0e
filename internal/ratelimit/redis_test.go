/*
Copyright 2026 The rowforge Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	goredis "github.com/redis/go-redis/v9"
)

func TestRateLimitRedis(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Redis Rate Limiter Suite")
}

var _ = Describe("Redis rate limiter", func() {
	var (
		mr      *miniredis.Miniredis
		client  *goredis.Client
		limiter *RedisLimiter
		now     time.Time
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

		limiter, err = NewRedisLimiter(client, Limits{RequestsPerMinute: 60, TokensPerMinute: 10_000})
		Expect(err).NotTo(HaveOccurred())
		now = time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
		limiter.now = func() time.Time { return now }
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(client.Close()).To(Succeed())
		mr.Close()
	})

	It("rejects the 61st request within one window", func() {
		for i := 1; i <= 60; i++ {
			Expect(limiter.Check(ctx, "tenant-1", 1).Allowed).To(BeTrue(), "request %d", i)
		}
		d := limiter.Check(ctx, "tenant-1", 1)
		Expect(d.Allowed).To(BeFalse())
		Expect(d.Reason).To(Equal("requests"))
	})

	It("resets counters on window rollover", func() {
		for i := 0; i < 60; i++ {
			limiter.Check(ctx, "tenant-1", 1)
		}
		Expect(limiter.Check(ctx, "tenant-1", 1).Allowed).To(BeFalse())

		now = now.Add(Window)
		Expect(limiter.Check(ctx, "tenant-1", 1).Allowed).To(BeTrue())
	})

	It("tracks token budget separately from requests", func() {
		Expect(limiter.Check(ctx, "tenant-1", 9_000).Allowed).To(BeTrue())
		d := limiter.Check(ctx, "tenant-1", 2_000)
		Expect(d.Allowed).To(BeFalse())
		Expect(d.Reason).To(Equal("tokens"))
		Expect(limiter.Check(ctx, "tenant-1", 1_000).Allowed).To(BeTrue())
	})

	It("isolates callers from each other", func() {
		Expect(limiter.Check(ctx, "tenant-1", 10_000).Allowed).To(BeTrue())
		Expect(limiter.Check(ctx, "tenant-2", 10_000).Allowed).To(BeTrue())
	})

	It("reconciles estimates against actual usage", func() {
		Expect(limiter.Check(ctx, "tenant-1", 9_000).Allowed).To(BeTrue())
		limiter.ReconcileUsage(ctx, "tenant-1", 9_000, 500, 500)
		Expect(limiter.Check(ctx, "tenant-1", 8_000).Allowed).To(BeTrue())
	})

	It("expires window keys", func() {
		limiter.Check(ctx, "tenant-1", 1)
		key := limiter.windowKey("tenant-1")
		Expect(mr.Exists(key)).To(BeTrue())
		mr.FastForward(windowKeyTTL + time.Second)
		Expect(mr.Exists(key)).To(BeFalse())
	})

	It("fails open when redis is unreachable", func() {
		deadClient := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
		defer deadClient.Close()
		broken, err := NewRedisLimiter(deadClient, Limits{RequestsPerMinute: 1, TokensPerMinute: 1})
		Expect(err).NotTo(HaveOccurred())

		// Limits are unenforceable without the store; traffic still flows.
		for i := 0; i < 3; i++ {
			Expect(broken.Check(ctx, "tenant-1", 100).Allowed).To(BeTrue())
		}
	})

	It("rejects construction without a client", func() {
		_, err := NewRedisLimiter(nil, Limits{})
		Expect(err).To(HaveOccurred())
	})
})
