package feature

import "github.com/garyjia/expense-agent/internal/domain/entity"

// Norm is the typical amount range of a category
type Norm struct {
	Min float64
	Max float64
}

// Mid is the midpoint of the range
func (n Norm) Mid() float64 {
	return (n.Min + n.Max) / 2
}

var defaultNorm = Norm{Min: 5, Max: 500}

var categoryNorms = map[entity.Category]Norm{
	entity.CategoryMeals:               {8, 75},
	entity.CategoryTravel:              {150, 800},
	entity.CategoryAccommodation:       {80, 350},
	entity.CategoryOfficeSupplies:      {10, 200},
	entity.CategorySoftware:            {10, 500},
	entity.CategoryEquipment:           {50, 2000},
	entity.CategoryTraining:            {30, 500},
	entity.CategoryClientEntertainment: {50, 500},
	entity.CategoryTransportation:      {5, 80},
	entity.CategoryMiscellaneous:       {5, 150},
}

// NormFor returns the amount range for a category, or the default range for unknown ones
func NormFor(c entity.Category) Norm {
	if n, ok := categoryNorms[c]; ok {
		return n
	}
	return defaultNorm
}

// CategoryDeviation is how far the amount sits above the category midpoint, in midpoints
func CategoryDeviation(c entity.Category, amount float64) float64 {
	mid := NormFor(c).Mid()
	return (amount - mid) / mid
}
