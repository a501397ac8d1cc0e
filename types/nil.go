package types

import "reflect"

// IsNil 判断接口值是否为 nil，包括装着 nil 指针的接口。
// 可选依赖（指标钩子等）注入前用它过滤，避免 (*T)(nil) 绕过 != nil 判断。
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
