package collector

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	mongodbPollerID        = "mongodb"
	defaultMongodbDatabase = "admin"
)

// mongodbServerStatusFields serverStatus 中保留的字段
var mongodbServerStatusFields = []string{"connections", "extra_info", "globalLock", "opcounters"}

// MongodbMetrics 文档数据库后端：serverStatus + dbStats + (best-effort) replSetGetStatus
type MongodbMetrics struct {
	creds DatabaseCredentials

	mu     sync.Mutex
	client *mongo.Client
}

// NewMongodbMetrics 创建 MongoDB 后端
func NewMongodbMetrics(creds DatabaseCredentials) *MongodbMetrics {
	return &MongodbMetrics{creds: creds}
}

func (m *MongodbMetrics) Name() string { return "mongodb" }

// PollerID 每个服务绑定一个 poller
func (m *MongodbMetrics) PollerID() string { return mongodbPollerID + "/" + m.creds.Name }

func (m *MongodbMetrics) Connect(ctx context.Context) error {
	opts := options.Client().ApplyURI(m.creds.URI).SetAppName("dbmetrics-agent")
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, readpref.PrimaryPreferred()); err != nil {
		_ = client.Disconnect(context.Background())
		return err
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	return nil
}

func (m *MongodbMetrics) IsConnected(ctx context.Context) bool {
	client := m.getClient()
	return client != nil && client.Ping(ctx, readpref.PrimaryPreferred()) == nil
}

func (m *MongodbMetrics) Commands() []Command {
	return []Command{
		{
			Name: "serverStatus",
			Run:  m.runCommand(m.database(), bson.D{{Key: "serverStatus", Value: 1}}),
		},
		{
			Name: "dbStats",
			Run:  m.runCommand(m.database(), bson.D{{Key: "dbStats", Value: 1}, {Key: "scale", Value: 1024}}),
		},
		{
			Name:       "replicationSetStatus",
			BestEffort: true,
			Run:        m.runCommand("admin", bson.D{{Key: "replSetGetStatus", Value: 1}}),
		},
	}
}

// MapMetrics 仅做字段挑选，不做单位换算
func (m *MongodbMetrics) MapMetrics(raw RawMetrics) Snapshot {
	out := Snapshot{}
	if serverStatus, ok := raw["serverStatus"].(map[string]any); ok {
		for _, field := range mongodbServerStatusFields {
			if v, ok := serverStatus[field]; ok {
				out[field] = v
			}
		}
	}
	if v, ok := raw["dbStats"]; ok {
		out["dbStats"] = v
	}
	if v, ok := raw["replicationSetStatus"]; ok {
		out["replicationSetStatus"] = v
	}
	return out
}

func (m *MongodbMetrics) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

func (m *MongodbMetrics) getClient() *mongo.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *MongodbMetrics) database() string {
	if m.creds.Database == "" {
		return defaultMongodbDatabase
	}
	return m.creds.Database
}

func (m *MongodbMetrics) runCommand(database string, cmd bson.D) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		client := m.getClient()
		if client == nil {
			return nil, errNotConnected
		}
		var doc bson.M
		if err := client.Database(database).RunCommand(ctx, cmd).Decode(&doc); err != nil {
			return nil, err
		}
		return normalizeBSON(doc), nil
	}
}

// normalizeBSON 把驱动返回的 bson 类型转换为普通 Go 类型，sink 无需依赖驱动
func normalizeBSON(v any) any {
	switch val := v.(type) {
	case bson.M:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case bson.A:
		return normalizeSlice(val)
	case []any:
		return normalizeSlice(val)
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return int64(val.T)
	case primitive.ObjectID:
		return val.Hex()
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return val.Data
	default:
		return val
	}
}

func normalizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeBSON(v)
	}
	return out
}

func normalizeSlice(in []any) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = normalizeBSON(v)
	}
	return out
}
