package datasource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// EndOfStream 消息流结束标记
const EndOfStream = "EOS"

// decodePayload 解析一条消息中的能量值
// 支持单个数值、数值数组、对象数组，以及以列名为键的对象（值为数值或数组）
func decodePayload(payload []byte, column string) ([]float64, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		// 非 JSON 时按纯文本数值处理，如 "662.1"
		v, castErr := cast.ToFloat64E(strings.TrimSpace(string(trimmed)))
		if castErr != nil {
			return nil, fmt.Errorf("无法解析消息: %v", err)
		}
		return []float64{v}, nil
	}
	return decodeValue(raw, column)
}

func decodeValue(raw interface{}, column string) ([]float64, error) {
	switch v := raw.(type) {
	case []interface{}:
		out := make([]float64, 0, len(v))
		for i, item := range v {
			if obj, isObj := item.(map[string]interface{}); isObj {
				field, ok := obj[column]
				if !ok {
					return nil, fmt.Errorf("%w: %s (第 %d 个元素)", ErrColumnNotFound, column, i)
				}
				item = field
			}
			f, err := cast.ToFloat64E(item)
			if err != nil {
				return nil, fmt.Errorf("第 %d 个元素不是数值: %v", i, err)
			}
			out = append(out, f)
		}
		return out, nil
	case map[string]interface{}:
		field, ok := v[column]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
		}
		return decodeValue(field, column)
	default:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("不是数值: %v", err)
		}
		return []float64{f}, nil
	}
}

// isEndOfStream 判断消息是否为流结束标记
func isEndOfStream(payload []byte) bool {
	return strings.EqualFold(string(bytes.TrimSpace(payload)), EndOfStream)
}
