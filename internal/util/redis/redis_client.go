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

// This file provides redis client utilities.

package redis

import (
	"context"
	"fmt"
	"os"
	"time"

	gredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"
)

const pingWait = 10 * time.Second

type ClientConfig struct {
	Url         string
	ServiceName string
	Timeout     time.Duration // Timeout for socket operations: dial, read, write.
}

// NewClient parses the URL, names the connection after this process and
// verifies connectivity with a ping before handing the client out.
func NewClient(ctx context.Context, cnf *ClientConfig) (*gredis.Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := klog.FromContext(ctx)
	if cnf == nil || cnf.Url == "" {
		err := fmt.Errorf("redis config has empty url")
		logger.Error(err, "NewClient")
		return nil, err
	}

	redisOps, err := gredis.ParseURL(cnf.Url)
	if err != nil {
		logger.Error(err, "NewClient")
		return nil, err
	}
	if redisOps.ClientName == "" {
		hostname, _ := os.Hostname()
		if cnf.ServiceName != "" {
			redisOps.ClientName = fmt.Sprintf("%s-%s-%d", cnf.ServiceName, hostname, os.Getpid())
		} else {
			redisOps.ClientName = fmt.Sprintf("%s-%d", hostname, os.Getpid())
		}
	}
	if cnf.Timeout != 0 {
		redisOps.DialTimeout = cnf.Timeout
		redisOps.ReadTimeout = cnf.Timeout
		redisOps.WriteTimeout = cnf.Timeout
	}
	redisOps.ContextTimeoutEnabled = true

	rds := gredis.NewClient(redisOps)
	pctx, cancel := context.WithTimeout(ctx, pingWait)
	defer cancel()
	if _, err := rds.Ping(pctx).Result(); err != nil {
		logger.Error(err, "NewClient: ping failed", "addr", redisOps.Addr)
		rds.Close()
		return nil, err
	}
	logger.Info("NewClient", "clientName", redisOps.ClientName)
	return rds, nil
}
