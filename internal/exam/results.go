package exam

import (
	"math"

	"github.com/stemsi/exstem-station/internal/model"
)

// Aggregate merges the platform's per-block statistics with the full roster.
// Blocks the platform did not report count as zero correct out of their
// declared size, and the overall percentage is always taken against the
// declared size of the whole exam.
func Aggregate(remote []model.BlockResult, roster []model.Block) model.Results {
	byBlock := make(map[string]model.BlockResult, len(remote))
	for _, r := range remote {
		if _, dup := byBlock[r.BlockID]; !dup {
			byBlock[r.BlockID] = r
		}
	}

	res := model.Results{PerBlock: make([]model.BlockResult, 0, len(roster))}
	for _, b := range roster {
		row, ok := byBlock[b.ID]
		if !ok {
			row = model.BlockResult{
				BlockID:     b.ID,
				TotalCount:  b.ExpectedQuestionCount,
				Synthesized: true,
			}
		}
		row.Severity = Classify(row.Percent)
		res.PerBlock = append(res.PerBlock, row)
		res.CorrectCount += row.CorrectCount
		res.DeclaredCount += b.ExpectedQuestionCount
	}

	if res.DeclaredCount > 0 {
		res.OverallPercent = round2(float64(res.CorrectCount) / float64(res.DeclaredCount) * 100)
	}
	res.OverallSeverity = Classify(res.OverallPercent)
	return res
}

// Classify maps a percentage to its presentation severity.
func Classify(percent float64) model.Severity {
	switch {
	case percent < 70:
		return model.SeverityLow
	case percent < 75:
		return model.SeverityMedium
	default:
		return model.SeverityHigh
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
