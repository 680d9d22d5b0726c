// Package binding reads platform service bindings and resolves them into
// collector credentials.
package binding

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	cfenv "github.com/cloudfoundry-community/go-cfenv"
	"go.uber.org/zap"

	"github.com/dbmetrics-agent/pkg/credentials"
	"github.com/dbmetrics-agent/pkg/logger"
)

// ErrNoBindings 既不在平台上运行也没有指定绑定文件
var ErrNoBindings = errors.New("no service bindings: VCAP_SERVICES is not set and no binding file was given")

// Skipped 被跳过的绑定及原因
type Skipped struct {
	Binding credentials.ServiceBinding
	Err     error
}

// Load 从当前进程环境读取 VCAP_SERVICES
func Load() ([]credentials.ServiceBinding, error) {
	if !cfenv.IsRunningOnCF() {
		return nil, ErrNoBindings
	}
	app, err := cfenv.Current()
	if err != nil {
		return nil, fmt.Errorf("read platform environment: %w", err)
	}
	return FromServices(app.Services), nil
}

// LoadFile 读取 VCAP_SERVICES 格式的 JSON 文件，便于在平台外运行
func LoadFile(path string) ([]credentials.ServiceBinding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read binding file: %w", err)
	}
	var services cfenv.Services
	if err := json.Unmarshal(data, &services); err != nil {
		return nil, fmt.Errorf("parse binding file %s: %w", path, err)
	}
	return FromServices(services), nil
}

// FromServices 展开所有服务实例；Label 即服务类型。按 label、name 排序保证顺序稳定。
func FromServices(services cfenv.Services) []credentials.ServiceBinding {
	var out []credentials.ServiceBinding
	for label, instances := range services {
		for _, svc := range instances {
			serviceType := svc.Label
			if serviceType == "" {
				serviceType = label
			}
			out = append(out, credentials.ServiceBinding{
				Name:        svc.Name,
				ServiceType: serviceType,
				Credentials: svc.Credentials,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceType != out[j].ServiceType {
			return out[i].ServiceType < out[j].ServiceType
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Resolve 映射每个绑定；未知类型或字段缺失的绑定记录日志后跳过
func Resolve(bindings []credentials.ServiceBinding) ([]credentials.Credentials, []Skipped) {
	var (
		resolved []credentials.Credentials
		skipped  []Skipped
	)
	for _, b := range bindings {
		creds, err := credentials.Map(b.ServiceType, b)
		if err != nil {
			var unknown *credentials.UnknownServiceTypeError
			if errors.As(err, &unknown) {
				logger.Debug("binding ignored, unsupported service type",
					zap.String("service", b.Name), zap.String("serviceType", b.ServiceType))
			} else {
				logger.Warn("binding skipped", zap.String("service", b.Name), zap.Error(err))
			}
			skipped = append(skipped, Skipped{Binding: b, Err: err})
			continue
		}
		resolved = append(resolved, creds)
	}
	return resolved, skipped
}
