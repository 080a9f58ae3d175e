// =============================================================================
// 📦 测试数据工厂 - 上游流式增量
// =============================================================================
// 提供带标签、原生推理与无标签三类上游流，用于编排器与处理器测试
// =============================================================================
package fixtures

import (
	"github.com/syranol/inference-gateway/llm/upstream"
)

// TaggedText 拼出带 analysis/final 标签的完整输出
func TaggedText(analysis, final string) string {
	return "<analysis>" + analysis + "</analysis><final>" + final + "</final>"
}

// ContentDeltas 把文本按 size 字节切成 content 增量；size <= 0 时整体发送
func ContentDeltas(text string, size int) []upstream.Delta {
	if size <= 0 || size >= len(text) {
		return []upstream.Delta{{Content: text}}
	}
	var out []upstream.Delta
	for i := 0; i < len(text); i += size {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		out = append(out, upstream.Delta{Content: text[i:end]})
	}
	return out
}

// TaggedDeltas 返回按 size 切分的带标签流
func TaggedDeltas(analysis, final string, size int) []upstream.Delta {
	return ContentDeltas(TaggedText(analysis, final), size)
}

// NativeDeltas 返回先推理字段、后正文的原生推理流
func NativeDeltas(reasoning []string, content []string) []upstream.Delta {
	out := make([]upstream.Delta, 0, len(reasoning)+len(content))
	for _, r := range reasoning {
		out = append(out, upstream.Delta{Reasoning: r})
	}
	for _, c := range content {
		out = append(out, upstream.Delta{Content: c})
	}
	return out
}
