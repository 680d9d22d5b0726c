package credentials

import (
	"errors"
	"fmt"
)

var errPortRange = errors.New("port out of range")

// UnknownServiceTypeError 没有为该服务类型注册映射函数
type UnknownServiceTypeError struct {
	ServiceType string
}

func (e *UnknownServiceTypeError) Error() string {
	return fmt.Sprintf("unknown service type %q", e.ServiceType)
}

// MalformedBindingError 绑定缺少必需字段或字段无法解析
type MalformedBindingError struct {
	ServiceType string
	Binding     string
	Field       string
	Err         error
}

func (e *MalformedBindingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s binding %q: field %q: %v", e.ServiceType, e.Binding, e.Field, e.Err)
	}
	return fmt.Sprintf("malformed %s binding %q: missing field %q", e.ServiceType, e.Binding, e.Field)
}

func (e *MalformedBindingError) Unwrap() error { return e.Err }
