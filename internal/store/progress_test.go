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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rowforge/batch-engine/internal/batch"
	"github.com/rowforge/batch-engine/internal/progress"
)

func TestProgressStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Progress Store Suite")
}

var _ = Describe("Progress store", func() {
	var (
		mr     *miniredis.Miniredis
		client *goredis.Client
		ps     *ProgressStore
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		ps, err = NewProgressStore(client, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(client.Close()).To(Succeed())
		mr.Close()
	})

	It("round-trips a snapshot", func() {
		snap := &Snapshot{
			BatchID:   "batch-1",
			Status:    batch.StatusProcessing,
			Stats:     batch.Stats{Total: 100, Processed: 40, Failed: 2},
			Progress:  progress.Stats{Percent: 40, Remaining: 60, ETA: time.Minute},
			UpdatedAt: time.Now().UTC().Truncate(time.Second),
		}
		Expect(ps.Set(ctx, snap)).To(Succeed())

		got, err := ps.Get(ctx, "batch-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(snap))
	})

	It("returns nil, nil for an unknown batch", func() {
		got, err := ps.Get(ctx, "nope")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNil())
	})

	It("replaces an existing snapshot", func() {
		Expect(ps.Set(ctx, &Snapshot{BatchID: "b", Status: batch.StatusProcessing})).To(Succeed())
		Expect(ps.Set(ctx, &Snapshot{BatchID: "b", Status: batch.StatusCompleted})).To(Succeed())
		got, err := ps.Get(ctx, "b")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(batch.StatusCompleted))
	})

	It("deletes a snapshot", func() {
		Expect(ps.Set(ctx, &Snapshot{BatchID: "b", Status: batch.StatusProcessing})).To(Succeed())
		Expect(ps.Delete(ctx, "b")).To(Succeed())
		got, err := ps.Get(ctx, "b")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNil())
	})

	It("expires snapshots after the TTL", func() {
		short, err := NewProgressStore(client, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(short.Set(ctx, &Snapshot{BatchID: "b", Status: batch.StatusProcessing})).To(Succeed())
		mr.FastForward(2 * time.Minute)
		got, err := short.Get(ctx, "b")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNil())
	})

	It("rejects snapshots without a batch ID", func() {
		Expect(ps.Set(ctx, &Snapshot{})).NotTo(Succeed())
		Expect(ps.Set(ctx, nil)).NotTo(Succeed())
	})

	It("rejects construction without a client or TTL", func() {
		_, err := NewProgressStore(nil, time.Hour)
		Expect(err).To(HaveOccurred())
		_, err = NewProgressStore(client, 0)
		Expect(err).To(HaveOccurred())
	})
})
