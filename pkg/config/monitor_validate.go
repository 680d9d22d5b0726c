package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate 采集间隔 1s ~ 1h；超时不能超过间隔的十倍
func (m *MonitorConfig) Validate() error {
	if err := valid.Struct(m); err != nil {
		return err
	}
	if m.Interval < time.Second || m.Interval > time.Hour {
		return fmt.Errorf("monitor.interval must be between 1s and 1h, got %s", m.Interval)
	}
	if m.Timeout > 0 && m.Timeout > 10*m.Interval {
		return fmt.Errorf("monitor.timeout %s exceeds ten intervals (%s)", m.Timeout, m.Interval)
	}
	if strings.ContainsAny(m.Tag, " \t\r\n") {
		return fmt.Errorf("monitor.tag %q must not contain whitespace", m.Tag)
	}
	return nil
}

// Validate 启用 nats 时校验 url 与 subject 前缀；重复的 sink 类型视为配置错误
func (s *SinkConfig) Validate() error {
	if err := valid.Struct(s); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, t := range s.Types {
		if seen[t] {
			return fmt.Errorf("sink.types duplicated entry: %q", t)
		}
		seen[t] = true
	}
	if !seen["nats"] {
		return nil
	}

	u, err := url.Parse(s.NATS.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("sink.nats.url invalid (expected nats://host:port), got %q", s.NATS.URL)
	}
	prefix := s.NATS.SubjectPrefix
	if prefix == "" || strings.ContainsAny(prefix, " *>") || strings.HasSuffix(prefix, ".") {
		return fmt.Errorf("sink.nats.subject_prefix invalid, got %q", prefix)
	}
	return nil
}
