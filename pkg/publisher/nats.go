package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/dbmetrics-agent/pkg/collector"
	"github.com/dbmetrics-agent/pkg/config"
	"github.com/dbmetrics-agent/pkg/credentials"
	"github.com/dbmetrics-agent/pkg/logger"
)

// Envelope NATS 消息体。只携带服务名与类型，不包含任何连接凭据。
type Envelope struct {
	ID        string             `json:"id"`
	Tag       string             `json:"tag,omitempty"`
	Service   string             `json:"service"`
	Type      string             `json:"type"`
	Agent     string             `json:"agent"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   collector.Snapshot `json:"metrics"`
}

// natsConn *nats.Conn 的最小子集
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATS 把快照发布到 <prefix>.<databaseType>.<service>
type NATS struct {
	conn   natsConn
	prefix string
	agent  string
	now    func() time.Time
}

// NewNATS 连接 NATS 服务器
func NewNATS(cfg config.NATSConfig) (*NATS, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return newNATS(nc, cfg.SubjectPrefix), nil
}

func newNATS(conn natsConn, prefix string) *NATS {
	return &NATS{
		conn:   conn,
		prefix: prefix,
		agent:  agentHostname(),
		now:    time.Now,
	}
}

func (n *NATS) Name() string { return "nats" }

// Publish 发后即忘，失败只记日志
func (n *NATS) Publish(tag string, creds credentials.Credentials, metrics collector.Snapshot) {
	env := Envelope{
		ID:        uuid.NewString(),
		Tag:       tag,
		Service:   creds.Name,
		Type:      string(creds.ServiceType),
		Agent:     n.agent,
		Timestamp: n.now().UTC(),
		Metrics:   metrics,
	}
	data, err := json.Marshal(env)
	if err != nil {
		logger.Warn("marshal snapshot failed", zap.String("service", creds.Name), zap.Error(err))
		return
	}
	subject := n.Subject(creds)
	if err := n.conn.Publish(subject, data); err != nil {
		logger.Warn("nats publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// Subject 主题名，服务名中的 '.' 与空白会被替换以免产生额外层级
func (n *NATS) Subject(creds credentials.Credentials) string {
	service := strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, creds.Name)
	return n.prefix + "." + string(creds.ServiceType) + "." + service
}

func (n *NATS) Close() error {
	return n.conn.Drain()
}

func agentHostname() string {
	info, err := host.Info()
	if err != nil || info.Hostname == "" {
		return "unknown"
	}
	return info.Hostname
}
