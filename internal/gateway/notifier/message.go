package notifier

import (
	"fmt"
	"strings"
	"time"
)

const maxMessageLen = 3800

// Field 代码块中对齐显示的一行键值。
type Field struct {
	Key   string
	Value string
}

// F 按格式化串构造 Field。
func F(key, format string, args ...any) Field {
	return Field{Key: key, Value: fmt.Sprintf(format, args...)}
}

// Message 统一格式的推送：标题 + 等宽键值块 + 可选脚注。
type Message struct {
	Icon      string
	Title     string
	Fields    []Field
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Markdown 文本，超长时截断。
func (m Message) RenderMarkdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Title + " " + m.Icon); header != "" {
		b.WriteString("*" + sanitize(header) + "*\n")
	}
	if block := renderFields(m.Fields); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

func renderFields(fields []Field) string {
	width := 0
	kept := fields[:0:0]
	for _, f := range fields {
		key := strings.TrimSpace(f.Key)
		if key == "" || strings.TrimSpace(f.Value) == "" {
			continue
		}
		width = max(width, len(key))
		kept = append(kept, Field{Key: key, Value: strings.TrimSpace(f.Value)})
	}
	if len(kept) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("```\n")
	for _, f := range kept {
		fmt.Fprintf(&b, "%-*s : %s\n", width, sanitize(f.Key), sanitize(f.Value))
	}
	b.WriteString("```\n")
	return b.String()
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
