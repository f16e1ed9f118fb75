// Package categorize predicts the category of an expense from its
// description, falling back to an optional model and then to amount ranges.
package categorize

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/garyjia/expense-agent/internal/application/port"
	"github.com/garyjia/expense-agent/internal/domain/entity"
)

// Prediction sources
const (
	SourceKeyword = "keyword_match"
	SourceModel   = "language_model"
	SourceAmount  = "heuristic_amount"
	SourceDefault = "heuristic_default"
)

const (
	keywordConfidence  = 0.85
	amountConfidence   = 0.4
	defaultConfidence  = 0.2
	minModelConfidence = 0.5
)

// Prediction is a predicted category with its confidence and source
type Prediction struct {
	Category   entity.Category `json:"predicted_category"`
	Confidence float64         `json:"confidence"`
	ModelUsed  string          `json:"model_used"`
}

type keywordGroup struct {
	category entity.Category
	keywords []string
}

// Checked in order; the first group with a hit wins.
var keywordGroups = []keywordGroup{
	{entity.CategoryAccommodation, []string{"hotel", "marriott", "hilton", "airbnb", "lodging", "inn", "motel", "resort"}},
	{entity.CategoryTravel, []string{"flight", "airline", "plane", "travel", "delta", "united", "southwest", "jetblue", "american airlines"}},
	{entity.CategoryTransportation, []string{"uber", "lyft", "taxi", "cab", "parking", "gas", "fuel", "metro", "subway", "train", "bus", "toll"}},
	{entity.CategoryMeals, []string{"lunch", "dinner", "breakfast", "food", "restaurant", "coffee", "chipotle", "starbucks", "meal", "cafeteria", "catering"}},
	{entity.CategorySoftware, []string{"adobe", "slack", "zoom", "subscription", "saas", "cloud", "aws", "azure", "github", "jira", "license", "hosting"}},
	{entity.CategoryEquipment, []string{"laptop", "monitor", "keyboard", "mouse", "computer", "apple", "dell", "server", "printer", "hardware", "macbook"}},
	{entity.CategoryTraining, []string{"course", "training", "conference", "workshop", "udemy", "coursera", "seminar", "certification", "registration"}},
	{entity.CategoryOfficeSupplies, []string{"staples", "office", "paper", "pen", "supplies", "toner", "ink", "binder", "notepad"}},
	{entity.CategoryClientEntertainment, []string{"client dinner", "client meeting", "client entertainment", "client event", "business dinner", "networking"}},
}

type amountRange struct {
	low, high float64
	category  entity.Category
}

// Overlapping ranges resolve to the first listed
var amountRanges = []amountRange{
	{0, 80, entity.CategoryMeals},
	{80, 200, entity.CategoryOfficeSupplies},
	{150, 500, entity.CategorySoftware},
	{200, 900, entity.CategoryTravel},
	{500, 5000, entity.CategoryEquipment},
}

// Categorizer predicts expense categories
type Categorizer struct {
	model  port.CategoryModel
	logger *zap.Logger
}

// New creates a categorizer. model may be nil.
func New(model port.CategoryModel, logger *zap.Logger) *Categorizer {
	return &Categorizer{model: model, logger: logger}
}

// Predict never fails: model errors fall through to the amount heuristic
func (c *Categorizer) Predict(ctx context.Context, description, merchant string, amount float64) Prediction {
	if cat, ok := MatchKeywords(description); ok {
		return Prediction{Category: cat, Confidence: keywordConfidence, ModelUsed: SourceKeyword}
	}

	if c.model != nil {
		cat, confidence, err := c.model.PredictCategory(ctx, description, merchant, amount)
		switch {
		case err != nil:
			c.logger.Warn("Category model failed, using amount heuristic", zap.Error(err))
		case cat.IsValid() && confidence >= minModelConfidence:
			return Prediction{Category: cat, Confidence: confidence, ModelUsed: SourceModel}
		default:
			c.logger.Debug("Category model answer discarded",
				zap.String("category", string(cat)),
				zap.Float64("confidence", confidence))
		}
	}

	return ByAmount(amount)
}

// MatchKeywords looks for a known keyword in the description. Keywords match
// whole words only, and multi-word phrases are tried before single words.
func MatchKeywords(description string) (entity.Category, bool) {
	text := normalize(description)
	if text == "" {
		return "", false
	}
	for _, phrases := range []bool{true, false} {
		for _, g := range keywordGroups {
			for _, kw := range g.keywords {
				if strings.Contains(kw, " ") != phrases {
					continue
				}
				if strings.Contains(text, " "+kw+" ") {
					return g.category, true
				}
			}
		}
	}
	return "", false
}

// normalize lowercases text, collapses everything that is not a letter or
// digit into single spaces and pads both ends so every word is space-delimited
func normalize(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}
	return " " + strings.Join(words, " ") + " "
}

// ByAmount guesses a category from typical spending ranges
func ByAmount(amount float64) Prediction {
	for _, r := range amountRanges {
		if amount >= r.low && amount <= r.high {
			return Prediction{Category: r.category, Confidence: amountConfidence, ModelUsed: SourceAmount}
		}
	}
	return Prediction{Category: entity.CategoryMiscellaneous, Confidence: defaultConfidence, ModelUsed: SourceDefault}
}
