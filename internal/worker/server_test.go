package worker

import (
	"testing"

	"feedbackhub/internal/config"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func TestRedisOpt(t *testing.T) {
	opt := RedisOpt(config.RedisConfig{Host: "redis", Port: 6380, DB: 2})
	assert.Equal(t, asynq.RedisClientOpt{Addr: "redis:6380", DB: 2}, opt)

	opt = RedisOpt(config.RedisConfig{Mode: "sentinel", MasterName: "mymaster", SentinelAddrs: []string{"s1:26379"}})
	failover, ok := opt.(asynq.RedisFailoverClientOpt)
	assert.True(t, ok)
	assert.Equal(t, "mymaster", failover.MasterName)

	opt = RedisOpt(config.RedisConfig{Mode: "cluster", ClusterAddrs: []string{"c1:7000", "c2:7000"}})
	cluster, ok := opt.(asynq.RedisClusterClientOpt)
	assert.True(t, ok)
	assert.Len(t, cluster.Addrs, 2)
}
