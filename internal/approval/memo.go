package approval

import (
	"fmt"

	"github.com/garyjia/expense-agent/internal/domain/entity"
	"github.com/garyjia/expense-agent/internal/domain/workflow"
)

// CompactMemoSize is the on-chain memo capacity in bytes
const CompactMemoSize = 32

// BuildMemo renders the human-readable payment memo stored with the expense
func BuildMemo(risk float64, category entity.Category, decision workflow.State, amount float64) string {
	return fmt.Sprintf("Risk=%.2f | Category=%s | Decision=%s | Amount=$%.2f | Agent=%s",
		risk, category, decision, amount, entity.SystemActor)
}

// BuildCompactMemo packs the key decision data into at most CompactMemoSize bytes,
// e.g. "R=0.10|C=meal|D=auto|$45"
func BuildCompactMemo(risk float64, category entity.Category, decision workflow.State, amount float64) string {
	memo := fmt.Sprintf("R=%.2f|C=%s|D=%s|$%.0f", risk, prefix(string(category), 4), prefix(string(decision), 4), amount)
	return prefix(memo, CompactMemoSize)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
