package strategy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Params 策略参数；构造后视为不可变，共享前先 Clone。
type Params map[string]any

// Clone 浅拷贝（参数值均为标量）。
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge 返回用 override 覆盖后的新参数。
func (p Params) Merge(override Params) Params {
	out := p.Clone()
	for k, v := range override {
		out[k] = v
	}
	return out
}

func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		if f, err := val.Float64(); err == nil {
			return int(f)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return def
}

func (p Params) Float(key string, def float64) float64 {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return def
}

func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Key 稳定的文本表示，用于日志与结果去重。
func (p Params) Key() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(parts, ",")
}
