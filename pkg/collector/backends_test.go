package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dbmetrics-agent/pkg/credentials"
)

func TestMongodbMapMetrics(t *testing.T) {
	m := NewMongodbMetrics(DatabaseCredentials{Credentials: credentials.Credentials{Name: "orders"}})
	raw := RawMetrics{
		"serverStatus": map[string]any{
			"connections": map[string]any{"current": int32(5)},
			"extra_info":  map[string]any{"page_faults": int64(1)},
			"globalLock":  map[string]any{"totalTime": int64(100)},
			"opcounters":  map[string]any{"insert": int64(7)},
			"host":        "mongo-0",
			"uptime":      3600.0,
		},
		"dbStats": map[string]any{"objects": int64(42)},
	}

	snap := m.MapMetrics(raw)
	assert.Equal(t, Snapshot{
		"connections": map[string]any{"current": int32(5)},
		"extra_info":  map[string]any{"page_faults": int64(1)},
		"globalLock":  map[string]any{"totalTime": int64(100)},
		"opcounters":  map[string]any{"insert": int64(7)},
		"dbStats":     map[string]any{"objects": int64(42)},
	}, snap)

	raw["replicationSetStatus"] = map[string]any{"set": "rs0"}
	assert.Equal(t, map[string]any{"set": "rs0"}, m.MapMetrics(raw)["replicationSetStatus"])
}

func TestNormalizeBSON(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	oid := primitive.NewObjectID()
	doc := bson.M{
		"nested":  bson.D{{Key: "a", Value: int32(1)}},
		"members": bson.A{bson.M{"name": "m0", "optimeDate": primitive.NewDateTimeFromTime(ts)}},
		"id":      oid,
		"ts":      primitive.Timestamp{T: 99, I: 1},
	}

	got := normalizeBSON(doc).(map[string]any)
	assert.Equal(t, map[string]any{"a": int32(1)}, got["nested"])
	members := got["members"].([]any)
	require.Len(t, members, 1)
	assert.Equal(t, map[string]any{"name": "m0", "optimeDate": ts}, members[0])
	assert.Equal(t, oid.Hex(), got["id"])
	assert.Equal(t, int64(99), got["ts"])
}

func TestMongodbConnectInvalidURI(t *testing.T) {
	m := NewMongodbMetrics(DatabaseCredentials{Credentials: credentials.Credentials{Name: "orders", URI: "not-a-mongo-uri"}})
	err := m.Connect(context.Background())
	assert.Error(t, err)
	assert.False(t, m.IsConnected(context.Background()))
	assert.NoError(t, m.Disconnect(context.Background()))
	assert.Equal(t, "mongodb/orders", m.PollerID())
}

func TestMongodbCommandsWithoutConnection(t *testing.T) {
	m := NewMongodbMetrics(DatabaseCredentials{Credentials: credentials.Credentials{Name: "orders"}})
	cmds := m.Commands()
	require.Len(t, cmds, 3)
	assert.True(t, cmds[2].BestEffort)
	for _, c := range cmds {
		_, err := c.Run(context.Background())
		assert.ErrorIs(t, err, errNotConnected)
	}
}

const redisInfoFixture = `# Server
redis_version:7.2.4
uptime_in_seconds:1200

# Clients
connected_clients:3
blocked_clients:0

# Memory
used_memory:1048576
mem_fragmentation_ratio:1.25

# Stats
total_commands_processed:500

# Keyspace
db0:keys=12,expires=2,avg_ttl=0
`

func TestParseRedisInfo(t *testing.T) {
	info := parseRedisInfo(redisInfoFixture)

	assert.Equal(t, map[string]any{"redis_version": "7.2.4", "uptime_in_seconds": int64(1200)}, info["server"])
	assert.Equal(t, int64(3), info["clients"].(map[string]any)["connected_clients"])
	assert.Equal(t, 1.25, info["memory"].(map[string]any)["mem_fragmentation_ratio"])
	assert.Equal(t, map[string]any{"keys": int64(12), "expires": int64(2), "avg_ttl": int64(0)},
		info["keyspace"].(map[string]any)["db0"])
}

func TestRedisMapMetrics(t *testing.T) {
	r := NewRedisMetrics(DatabaseCredentials{Credentials: credentials.Credentials{Name: "cache"}})
	raw := RawMetrics{
		"info":   parseRedisInfo(redisInfoFixture),
		"dbSize": int64(12),
	}

	snap := r.MapMetrics(raw)
	assert.Contains(t, snap, "clients")
	assert.Contains(t, snap, "memory")
	assert.Contains(t, snap, "keyspace")
	assert.NotContains(t, snap, "persistence", "section absent from INFO output")
	assert.NotContains(t, snap, "clusterInfo")
	assert.Equal(t, int64(12), snap["dbSize"])

	raw["clusterInfo"] = parseRedisFields("cluster_state:ok\r\ncluster_known_nodes:6\r\n")
	snap = r.MapMetrics(raw)
	assert.Equal(t, map[string]any{"cluster_state": "ok", "cluster_known_nodes": int64(6)}, snap["clusterInfo"])
}

func TestRedisConnectFailure(t *testing.T) {
	r := NewRedisMetrics(DatabaseCredentials{Credentials: credentials.Credentials{Name: "cache", Host: "127.0.0.1", Port: 1}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Error(t, r.Connect(ctx))
	assert.False(t, r.IsConnected(ctx))
	assert.NoError(t, r.Disconnect(ctx))
}

func TestRedisInvalidDatabaseIndex(t *testing.T) {
	r := NewRedisMetrics(DatabaseCredentials{Credentials: credentials.Credentials{Name: "cache", Host: "h", Database: "zero"}})
	err := r.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis database index")
}
