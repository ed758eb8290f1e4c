package optimize

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"

	"gopkg.in/yaml.v3"
)

// Grid 参数名 → 候选值；按键名排序做笛卡尔积。
type Grid map[string][]any

// Keys 排序后的参数名。
func (g Grid) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size 组合总数；任一参数没有候选值时为 0。
func (g Grid) Size() int {
	if len(g) == 0 {
		return 0
	}
	n := 1
	for _, vals := range g {
		n *= len(vals)
	}
	return n
}

// Combinations 展开为参数组合，最后一个键变化最快。
func (g Grid) Combinations() []strategy.Params {
	size := g.Size()
	if size == 0 {
		return nil
	}
	keys := g.Keys()
	out := make([]strategy.Params, 0, size)
	idx := make([]int, len(keys))
	for {
		p := make(strategy.Params, len(keys))
		for i, k := range keys {
			p[k] = g[k][idx[i]]
		}
		out = append(out, p)

		pos := len(keys) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(g[keys[pos]]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return out
		}
	}
}

// GridFile YAML 文件结构。
type GridFile struct {
	Strategy string          `yaml:"strategy"`
	Base     strategy.Params `yaml:"base"`
	Grid     Grid            `yaml:"grid"`
}

// LoadGrid 读取 YAML 参数网格。
func LoadGrid(path string) (GridFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return GridFile{}, fmt.Errorf("read grid %s: %w", path, err)
	}
	var gf GridFile
	if err := yaml.Unmarshal(raw, &gf); err != nil {
		return GridFile{}, fmt.Errorf("parse grid %s: %w", path, err)
	}
	gf.Strategy = strings.TrimSpace(gf.Strategy)
	if len(gf.Grid) == 0 {
		return GridFile{}, fmt.Errorf("grid %s: 没有可优化的参数", path)
	}
	for k, vals := range gf.Grid {
		if len(vals) == 0 {
			return GridFile{}, fmt.Errorf("grid %s: 参数 %s 没有候选值", path, k)
		}
	}
	return gf, nil
}
