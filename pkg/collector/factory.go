package collector

import (
	"fmt"

	"github.com/dbmetrics-agent/pkg/credentials"
	"github.com/dbmetrics-agent/pkg/poller"
)

// BackendFactory 根据凭据创建后端
type BackendFactory func(creds DatabaseCredentials) Backend

// backends 数据库分类 -> 后端构造函数，新增后端只需添加一行
var backends = map[credentials.DatabaseType]BackendFactory{
	credentials.Document: func(c DatabaseCredentials) Backend { return NewMongodbMetrics(c) },
	credentials.KeyValue: func(c DatabaseCredentials) Backend { return NewRedisMetrics(c) },
}

// NewForCredentials 按 ServiceType 选择后端并创建 DatabaseMetrics
func NewForCredentials(creds DatabaseCredentials, registry *poller.Registry, publisher Publisher, opts ...Option) (*DatabaseMetrics, error) {
	factory, ok := backends[creds.ServiceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q (service %s)", ErrUnsupportedBackend, creds.ServiceType, creds.Name)
	}
	return New(factory(creds), creds, registry, publisher, opts...), nil
}
