package collector

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

const (
	redisPollerID    = "redis"
	defaultRedisPort = 6379
)

// redisInfoSections INFO 中保留的分组
var redisInfoSections = []string{"server", "clients", "memory", "persistence", "stats", "replication", "keyspace"}

// RedisMetrics 键值缓存后端：INFO + DBSIZE + (best-effort) CLUSTER INFO
type RedisMetrics struct {
	creds DatabaseCredentials

	mu     sync.Mutex
	client *redis.Client
}

// NewRedisMetrics 创建 Redis 后端
func NewRedisMetrics(creds DatabaseCredentials) *RedisMetrics {
	return &RedisMetrics{creds: creds}
}

func (r *RedisMetrics) Name() string { return "redis" }

func (r *RedisMetrics) PollerID() string { return redisPollerID + "/" + r.creds.Name }

func (r *RedisMetrics) Connect(ctx context.Context) error {
	db := 0
	if r.creds.Database != "" {
		n, err := strconv.Atoi(r.creds.Database)
		if err != nil {
			return errors.Wrapf(err, "invalid redis database index %q", r.creds.Database)
		}
		db = n
	}

	port := r.creds.Port
	if port == 0 {
		port = defaultRedisPort
	}
	addr := net.JoinHostPort(r.creds.Host, strconv.Itoa(port))

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: r.creds.Password,
		DB:       db,
	})
	if err := client.WithContext(ctx).Ping().Err(); err != nil {
		_ = client.Close()
		return errors.Wrapf(err, "ping redis %s", addr)
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()
	return nil
}

func (r *RedisMetrics) IsConnected(ctx context.Context) bool {
	client := r.getClient()
	return client != nil && client.WithContext(ctx).Ping().Err() == nil
}

func (r *RedisMetrics) Commands() []Command {
	return []Command{
		{
			Name: "info",
			Run: func(ctx context.Context) (any, error) {
				client := r.getClient()
				if client == nil {
					return nil, errNotConnected
				}
				text, err := client.WithContext(ctx).Info().Result()
				if err != nil {
					return nil, errors.Wrap(err, "redis INFO")
				}
				return parseRedisInfo(text), nil
			},
		},
		{
			Name: "dbSize",
			Run: func(ctx context.Context) (any, error) {
				client := r.getClient()
				if client == nil {
					return nil, errNotConnected
				}
				n, err := client.WithContext(ctx).DbSize().Result()
				if err != nil {
					return nil, errors.Wrap(err, "redis DBSIZE")
				}
				return n, nil
			},
		},
		{
			Name:       "clusterInfo",
			BestEffort: true,
			Run: func(ctx context.Context) (any, error) {
				client := r.getClient()
				if client == nil {
					return nil, errNotConnected
				}
				text, err := client.WithContext(ctx).ClusterInfo().Result()
				if err != nil {
					return nil, errors.Wrap(err, "redis CLUSTER INFO")
				}
				return parseRedisFields(text), nil
			},
		},
	}
}

// MapMetrics 挑选 INFO 分组，附加 dbSize / clusterInfo
func (r *RedisMetrics) MapMetrics(raw RawMetrics) Snapshot {
	out := Snapshot{}
	if info, ok := raw["info"].(map[string]any); ok {
		for _, section := range redisInfoSections {
			if v, ok := info[section]; ok {
				out[section] = v
			}
		}
	}
	if v, ok := raw["dbSize"]; ok {
		out["dbSize"] = v
	}
	if v, ok := raw["clusterInfo"]; ok {
		out["clusterInfo"] = v
	}
	return out
}

func (r *RedisMetrics) Disconnect(context.Context) error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func (r *RedisMetrics) getClient() *redis.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

// parseRedisInfo 解析 INFO 输出：
//
//	# Clients
//	connected_clients:1
//	# Keyspace
//	db0:keys=1,expires=0,avg_ttl=0
func parseRedisInfo(text string) map[string]any {
	out := map[string]any{}
	var section map[string]any

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			section = map[string]any{}
			out[strings.ToLower(strings.TrimSpace(line[1:]))] = section
			continue
		}
		if section == nil {
			section = map[string]any{}
			out["default"] = section
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.Contains(value, "=") {
			section[key] = parseRedisSubFields(value)
			continue
		}
		section[key] = parseRedisValue(value)
	}
	return out
}

// parseRedisFields 解析无分组的 key:value 输出（CLUSTER INFO）
func parseRedisFields(text string) map[string]any {
	out := map[string]any{}
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		out[key] = parseRedisValue(value)
	}
	return out
}

// parseRedisSubFields keys=1,expires=0 -> map
func parseRedisSubFields(value string) map[string]any {
	out := map[string]any{}
	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[k] = parseRedisValue(v)
	}
	return out
}

func parseRedisValue(value string) any {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
