package strategy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrUnknownStrategy = errors.New("strategy: unknown strategy")
	ErrInvalidParams   = errors.New("strategy: invalid params")
)

// Definition 描述一个可注册的策略。
type Definition struct {
	Name        string
	Description string
	// Schema 参数的 JSON Schema 文档，可为空。
	Schema   string
	Defaults Params
	// Check schema 表达不了的跨字段约束。
	Check   func(Params) error
	Factory Factory
}

type entry struct {
	def    Definition
	schema *jsonschema.Schema
}

// Registry 按名称管理策略定义。
type Registry struct {
	mu   sync.RWMutex
	defs map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]entry)}
}

// Register 编译 schema 并登记；重名返回错误。
func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("strategy name 不能为空")
	}
	if def.Factory == nil {
		return fmt.Errorf("strategy %s 缺少 factory", name)
	}
	var compiled *jsonschema.Schema
	if strings.TrimSpace(def.Schema) != "" {
		var err error
		compiled, err = compileSchema(name, def.Schema)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("strategy %s 已注册", name)
	}
	def.Name = name
	r.defs[name] = entry{def: def, schema: compiled}
	return nil
}

func compileSchema(name, doc string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Names 已注册的策略名（排序后）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for name := range r.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.defs[strings.TrimSpace(name)]
	return e.def, ok
}

// Resolve 合并默认值、校验 schema 与 Check，返回规范化后的新参数。
func (r *Registry) Resolve(name string, params Params) (Params, error) {
	r.mu.RLock()
	e, ok := r.defs[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	merged := e.def.Defaults.Merge(params)
	doc, err := normalizeParams(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if e.schema != nil {
		if err := e.schema.Validate(map[string]any(doc)); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
		}
	}
	if e.def.Check != nil {
		if err := e.def.Check(doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
		}
	}
	return doc, nil
}

// Validate 只做校验，不构造实例。
func (r *Registry) Validate(name string, params Params) error {
	_, err := r.Resolve(name, params)
	return err
}

// Build 校验参数后用新的参数副本构造策略实例。
func (r *Registry) Build(name string, env Env, params Params) (Strategy, error) {
	resolved, err := r.Resolve(name, params)
	if err != nil {
		return nil, err
	}
	def, _ := r.Definition(name)
	return def.Factory(env, resolved)
}

// normalizeParams 把数字字符串转为数字，再经 JSON 往返成 schema 校验器可接受的类型。
func normalizeParams(p Params) (Params, error) {
	raw, err := json.Marshal(coerceNumbers(map[string]any(p)))
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return Params(out), nil
}

func coerceNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = coerceNumbers(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = coerceNumbers(child)
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}
