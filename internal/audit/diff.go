package audit

import (
	"encoding/json"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// RenderDiff 将 before/after 渲染为统一格式的文本 diff，便于在后台直接查看
func RenderDiff(r *Record) (string, error) {
	before, err := prettyJSON(r.Before)
	if err != nil {
		return "", err
	}
	after, err := prettyJSON(r.After)
	if err != nil {
		return "", err
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: fmt.Sprintf("%s/%s@before", r.EntityType, r.EntityID),
		ToFile:   fmt.Sprintf("%s/%s@after", r.EntityType, r.EntityID),
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// prettyJSON 空快照渲染为空文本；encoding/json 对 map 键排序，输出稳定
func prettyJSON(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: render snapshot: %w", err)
	}
	return string(b) + "\n", nil
}
