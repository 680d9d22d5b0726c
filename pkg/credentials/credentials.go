// Package credentials translates platform service bindings into the canonical
// credential shape consumed by the database collectors.
package credentials

import (
	"fmt"
	"strconv"
)

// DatabaseType 数据库粗粒度分类
type DatabaseType string

const (
	Document DatabaseType = "document"
	KeyValue DatabaseType = "key-value"
)

// ServiceBinding 平台下发的服务绑定描述（结构由平台决定）
type ServiceBinding struct {
	Name        string         `json:"name"`
	ServiceType string         `json:"serviceType"`
	Credentials map[string]any `json:"credentials"`
}

// Credentials 规范化后的凭据。空字符串 / 0 端口表示该后端不适用此字段。
type Credentials struct {
	ServiceType DatabaseType `json:"serviceType"`
	Name        string       `json:"name"`
	Host        string       `json:"host,omitempty"`
	Port        int          `json:"port,omitempty"`
	URI         string       `json:"uri,omitempty"`
	Username    string       `json:"username,omitempty"`
	Password    string       `json:"password,omitempty"`
	Database    string       `json:"database,omitempty"`
}

// Address host:port，未设置端口时仅返回 host
func (c Credentials) Address() string {
	if c.Port == 0 {
		return c.Host
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// String 打印时隐藏密码
func (c Credentials) String() string {
	pw := ""
	if c.Password != "" {
		pw = "******"
	}
	return fmt.Sprintf("{type=%s name=%s host=%s port=%d database=%s username=%s password=%s}",
		c.ServiceType, c.Name, c.Host, c.Port, c.Database, c.Username, pw)
}
