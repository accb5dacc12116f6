package worker

import (
	"context"
	"errors"
	"strings"
)

// HeuristicScorer 是内建的兜底评分实现：按结构关键词与篇幅估一个分数。
// 生产部署会注入外部 LLM 评分服务的实现，这里保证 worker 在无外部
// 协作方时依然可用。
type HeuristicScorer struct{}

var sectionKeywords = []string{
	"experience", "education", "skills", "projects", "summary",
}

// ScoreResume 实现 Scorer。
func (HeuristicScorer) ScoreResume(_ context.Context, text string) (int, string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, "", errors.New("resume text is empty")
	}

	lower := strings.ToLower(trimmed)
	score := 40
	found := make([]string, 0, len(sectionKeywords))
	for _, keyword := range sectionKeywords {
		if strings.Contains(lower, keyword) {
			score += 10
			found = append(found, keyword)
		}
	}
	if len(strings.Fields(trimmed)) >= 150 {
		score += 10
	}
	if score > 100 {
		score = 100
	}

	summary := "sections covered: " + strings.Join(found, ", ")
	if len(found) == 0 {
		summary = "no recognizable resume sections found"
	}
	return score, summary, nil
}
