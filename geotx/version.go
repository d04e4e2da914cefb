package geotx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// VersionToken 要素的版本标记, 由存储端生成, 编辑端只做透传和比较
// 内部区分数值型和字符串型两种表示, 比较时不做跨类型转换
type VersionToken struct {
	num   int64
	str   string
	isNum bool
}

// NumericVersion 构造数值型版本
func NumericVersion(n int64) VersionToken {
	return VersionToken{num: n, isNum: true}
}

// StringVersion 构造字符串型版本
func StringVersion(s string) VersionToken {
	return VersionToken{str: s}
}

// VersionFromAny 从请求参数中解析版本号, 支持 json 数字与字符串
func VersionFromAny(v interface{}) (VersionToken, error) {
	switch val := v.(type) {
	case nil:
		return VersionToken{}, fmt.Errorf("version value is nil")
	case VersionToken:
		return val, nil
	case int:
		return NumericVersion(int64(val)), nil
	case int64:
		return NumericVersion(val), nil
	case float64:
		return NumericVersion(int64(val)), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return VersionToken{}, fmt.Errorf("parse version number %q: %w", val.String(), err)
		}
		return NumericVersion(n), nil
	case string:
		return StringVersion(val), nil
	default:
		return VersionToken{}, fmt.Errorf("unsupported version type %T", v)
	}
}

// IsNumeric 是否为数值型版本
func (v VersionToken) IsNumeric() bool {
	return v.isNum
}

// Int64 数值型版本的值, 非数值型返回 0
func (v VersionToken) Int64() int64 {
	return v.num
}

// Equal 精确比较, 数值与字符串表示之间不相等
func (v VersionToken) Equal(other VersionToken) bool {
	if v.isNum != other.isNum {
		return false
	}
	if v.isNum {
		return v.num == other.num
	}
	return v.str == other.str
}

func (v VersionToken) String() string {
	if v.isNum {
		return strconv.FormatInt(v.num, 10)
	}
	return v.str
}

// Value 序列化用的原生表示
func (v VersionToken) Value() interface{} {
	if v.isNum {
		return v.num
	}
	return v.str
}

func (v VersionToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Value())
}

func (v *VersionToken) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	tok, err := VersionFromAny(raw)
	if err != nil {
		return err
	}
	*v = tok
	return nil
}

// CheckVersion 乐观锁校验: expected 为 nil 表示无条件写, 永远通过
// 纯比较, 无任何 IO, 可并发使用
func CheckVersion(expected *VersionToken, actual VersionToken) *EditError {
	if expected == nil {
		return nil
	}
	if expected.Equal(actual) {
		return nil
	}
	return NewError(KindVersionConflict, "stored version does not match expected version").
		WithDetail("expected", expected.Value()).
		WithDetail("actual", actual.Value())
}
