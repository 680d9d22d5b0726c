package credentials

import (
	"sort"

	"github.com/spf13/cast"
)

// Mapper 单个服务类型的映射函数，必须是纯函数
type Mapper func(binding ServiceBinding) (Credentials, error)

// serviceTypeEntry 单个原始服务类型标签的注册项：数据库分类 + 映射函数
type serviceTypeEntry struct {
	Type DatabaseType
	Map  Mapper
}

// serviceTypes 原始服务类型标签 -> 注册项，新增后端只需添加一行
var serviceTypes = map[string]serviceTypeEntry{
	"mongodb":    {Type: Document, Map: mapMongodbCredentials},
	"mongodb-2":  {Type: Document, Map: mapMongodbCredentials},
	"mlab":       {Type: Document, Map: mapMongodbCredentials},
	"redis":      {Type: KeyValue, Map: mapRedisCredentials},
	"redis-2":    {Type: KeyValue, Map: mapRedisCredentials},
	"rediscloud": {Type: KeyValue, Map: mapRedisCredentials},
}

// Map 按服务类型选择映射函数，生成规范化凭据
func Map(serviceType string, binding ServiceBinding) (Credentials, error) {
	entry, ok := serviceTypes[serviceType]
	if !ok {
		return Credentials{}, &UnknownServiceTypeError{ServiceType: serviceType}
	}
	binding.ServiceType = serviceType
	c, err := entry.Map(binding)
	if err != nil {
		return Credentials{}, err
	}
	c.ServiceType = entry.Type
	return c, nil
}

// DatabaseTypeOf 查询服务类型对应的数据库分类
func DatabaseTypeOf(serviceType string) (DatabaseType, bool) {
	entry, ok := serviceTypes[serviceType]
	return entry.Type, ok
}

// SupportedServiceTypes 已注册的服务类型（排序后）
func SupportedServiceTypes() []string {
	types := make([]string, 0, len(serviceTypes))
	for t := range serviceTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func mapMongodbCredentials(b ServiceBinding) (Credentials, error) {
	uri, err := stringField(b, "database_uri")
	if err != nil {
		return Credentials{}, err
	}
	if uri == "" {
		if uri, err = stringField(b, "uri"); err != nil {
			return Credentials{}, err
		}
	}
	if uri == "" {
		return Credentials{}, &MalformedBindingError{ServiceType: b.ServiceType, Binding: b.Name, Field: "database_uri"}
	}

	c := Credentials{
		Name: b.Name,
		URI:  uri,
	}
	if c.Host, err = stringField(b, "host"); err != nil {
		return Credentials{}, err
	}
	if c.Username, err = stringField(b, "username"); err != nil {
		return Credentials{}, err
	}
	if c.Password, err = stringField(b, "password"); err != nil {
		return Credentials{}, err
	}
	if c.Database, err = stringField(b, "database"); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

func mapRedisCredentials(b ServiceBinding) (Credentials, error) {
	host, err := stringField(b, "host")
	if err != nil {
		return Credentials{}, err
	}
	if host == "" {
		return Credentials{}, &MalformedBindingError{ServiceType: b.ServiceType, Binding: b.Name, Field: "host"}
	}

	c := Credentials{
		Name: b.Name,
		Host: host,
	}
	if raw, ok := b.Credentials["port"]; ok && raw != nil {
		port, err := cast.ToIntE(raw)
		if err != nil || port < 0 || port > 65535 {
			if err == nil {
				err = errPortRange
			}
			return Credentials{}, &MalformedBindingError{ServiceType: b.ServiceType, Binding: b.Name, Field: "port", Err: err}
		}
		c.Port = port
	}
	if c.Password, err = stringField(b, "password"); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// stringField 读取字符串字段；不存在或为空时返回 ""，类型不可转换时报错
func stringField(b ServiceBinding, key string) (string, error) {
	raw, ok := b.Credentials[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return "", &MalformedBindingError{ServiceType: b.ServiceType, Binding: b.Name, Field: key, Err: err}
	}
	return s, nil
}
