package feature

import (
	"math"
	"strings"
	"time"

	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// ReceiptData is what an upstream extractor read off a receipt
type ReceiptData struct {
	Success    bool       `json:"ocr_success"`
	Confidence float64    `json:"ocr_confidence"`
	Amount     *float64   `json:"ocr_amount,omitempty"`
	Merchant   string     `json:"ocr_merchant,omitempty"`
	Date       *time.Time `json:"ocr_date,omitempty"`
}

// CrossCheck compares extracted receipt fields with the submitted claim
func CrossCheck(r ReceiptData, amount float64, merchant string, now time.Time) entity.OCRSignals {
	out := entity.OCRSignals{
		Success:    r.Success,
		Confidence: r.Confidence,
	}
	if !r.Success {
		return out
	}

	if r.Amount != nil && amount > 0 {
		out.AmountMismatch = Round(math.Abs(*r.Amount-amount)/math.Max(amount, 0.01), 4)
	}

	ocrMerchant := strings.ToLower(strings.TrimSpace(r.Merchant))
	claimMerchant := strings.ToLower(strings.TrimSpace(merchant))
	if ocrMerchant != "" && claimMerchant != "" {
		match := strings.Contains(claimMerchant, ocrMerchant) ||
			strings.Contains(ocrMerchant, claimMerchant) ||
			wordOverlap(ocrMerchant, claimMerchant) >= 0.5
		out.MerchantMismatch = !match
	}

	if r.Date != nil {
		gap := now.Sub(*r.Date).Hours() / 24
		out.DateGapDays = int(math.Abs(gap))
	}

	return out
}

// wordOverlap is the shared word count over the shorter word set
func wordOverlap(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	shared := 0
	for w := range wa {
		if wb[w] {
			shared++
		}
	}
	return float64(shared) / float64(min(len(wa), len(wb)))
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}
