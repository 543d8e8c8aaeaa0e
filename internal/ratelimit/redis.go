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

// This file provides a redis-backed limiter for deployments where several
// worker processes share one provider quota.

package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"github.com/rowforge/batch-engine/internal/util/logging"
)

const (
	keysPrefix = "rowforge:ratelimit:"

	// Window keys outlive their minute by one more so that late usage
	// reconciliation still finds them, then expire on their own.
	windowKeyTTL = 2 * Window
)

var (
	//go:embed check_and_record.lua
	checkAndRecordLua    string
	scriptCheckAndRecord = goredis.NewScript(checkAndRecordLua)

	//go:embed reconcile.lua
	reconcileLua    string
	scriptReconcile = goredis.NewScript(reconcileLua)
)

// RedisLimiter enforces per-caller windows in redis. The check-and-increment
// runs as one lua script, so concurrent workers never race between reading
// the counters and recording their request.
//
// Availability is favored over strict enforcement: if redis cannot be
// reached the request is admitted and the failure is logged. Enforcing
// fail-closed here would turn a cost-control outage into a full traffic
// outage.
type RedisLimiter struct {
	client *goredis.Client
	limits Limits

	now func() time.Time // test hook
}

// NewRedisLimiter returns a limiter backed by the given redis client.
func NewRedisLimiter(client *goredis.Client, limits Limits) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("nil redis client")
	}
	return &RedisLimiter{
		client: client,
		limits: limits,
		now:    time.Now,
	}, nil
}

func (l *RedisLimiter) windowKey(caller string) string {
	return fmt.Sprintf("%s%s:%d", keysPrefix, caller, windowStart(l.now()).Unix())
}

// Check implements Limiter.
func (l *RedisLimiter) Check(ctx context.Context, caller string, estimatedTokens int) Decision {
	logger := klog.FromContext(ctx)

	res, err := scriptCheckAndRecord.Run(ctx, l.client,
		[]string{l.windowKey(caller)},
		l.limits.RequestsPerMinute,
		l.limits.TokensPerMinute,
		estimatedTokens,
		int(windowKeyTTL.Seconds()),
	).Text()
	if err != nil {
		// Fail open: admit on lookup failure rather than blocking all traffic.
		logger.Error(err, "Rate limit check failed, admitting request", "caller", caller)
		return admitted
	}
	if res != "" {
		logger.V(logging.INFO).Info("Rate limit rejected request", "caller", caller, "reason", res)
		return Decision{Reason: res}
	}
	return admitted
}

// ReconcileUsage implements Limiter.
func (l *RedisLimiter) ReconcileUsage(ctx context.Context, caller string, estimatedTokens, inputTokens, outputTokens int) {
	delta := inputTokens + outputTokens - estimatedTokens
	if delta == 0 {
		return
	}
	err := scriptReconcile.Run(ctx, l.client,
		[]string{l.windowKey(caller)},
		strconv.Itoa(delta),
	).Err()
	if err != nil {
		klog.FromContext(ctx).Error(err, "Rate limit usage reconciliation failed", "caller", caller)
	}
}
