package skufmt

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

// FormatError 说明 SKU 为什么不满足派生规则。
type FormatError struct {
	// Kind: "empty_sku" / "no_delimiter" / "too_few_fields" / "empty_result" / "bad_rule"
	Kind string
	SKU  string
	Rule domain.RuleKind
}

func (e *FormatError) Error() string {
	switch e.Kind {
	case "empty_sku":
		return "SKU 为空"
	case "no_delimiter":
		return fmt.Sprintf("SKU %q 不包含分隔符（rule=%s）", e.SKU, e.Rule)
	case "too_few_fields":
		return fmt.Sprintf("SKU %q 分段数不足（rule=%s）", e.SKU, e.Rule)
	case "empty_result":
		return fmt.Sprintf("SKU %q 派生结果为空（rule=%s）", e.SKU, e.Rule)
	default:
		return fmt.Sprintf("无效派生规则：%s", e.Rule)
	}
}

// Format 把内部 SKU 按规则转换成店铺搜索 key。
//
// 约束：
// - 纯函数，不 panic
// - 规则不适用时返回原始 SKU 与 ok=false（由调用方记录告警）
// - 非空输入永远不会得到空 key
func Format(sku string, rule domain.DerivationRule) (key string, ok bool) {
	key, err := Derive(sku, rule)
	if err != nil {
		return sku, false
	}
	return key, true
}

// Derive 与 Format 相同，但返回具体的失败原因。
func Derive(sku string, rule domain.DerivationRule) (string, error) {
	if sku == "" {
		return "", &FormatError{Kind: "empty_sku", Rule: rule.Kind}
	}

	var out string
	switch rule.Kind {
	case domain.RuleIdentity:
		out = sku
	case domain.RuleConstant:
		out = rule.Value
	case domain.RuleField, domain.RuleJoin:
		if rule.Delimiter == "" || len(rule.Fields) == 0 {
			return "", &FormatError{Kind: "bad_rule", SKU: sku, Rule: rule.Kind}
		}
		if !strings.Contains(sku, rule.Delimiter) {
			return "", &FormatError{Kind: "no_delimiter", SKU: sku, Rule: rule.Kind}
		}
		parts := strings.Split(sku, rule.Delimiter)
		idx := rule.Fields
		if rule.Kind == domain.RuleField {
			idx = idx[:1]
		}
		picked := make([]string, 0, len(idx))
		for _, n := range idx {
			if n < 1 || n > len(parts) {
				return "", &FormatError{Kind: "too_few_fields", SKU: sku, Rule: rule.Kind}
			}
			p := strings.TrimSpace(parts[n-1])
			if p == "" {
				return "", &FormatError{Kind: "empty_result", SKU: sku, Rule: rule.Kind}
			}
			picked = append(picked, p)
		}
		out = strings.Join(picked, rule.Separator)
	default:
		return "", &FormatError{Kind: "bad_rule", SKU: sku, Rule: rule.Kind}
	}

	if strings.TrimSpace(out) == "" {
		return "", &FormatError{Kind: "empty_result", SKU: sku, Rule: rule.Kind}
	}
	return out, nil
}
