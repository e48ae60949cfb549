package domain

// Category is a billable service type. Variable categories take their cost
// from the request at creation time instead of Price.
type Category struct {
	ID       int64
	Name     string
	Price    int64
	Variable bool
}

// ResolveCost fixes the cost of a new request in this category.
func (c Category) ResolveCost(explicit *int64) (int64, error) {
	if !c.Variable {
		if explicit != nil && *explicit != c.Price {
			return 0, ValidationError("category %d has a fixed price", c.ID)
		}
		return c.Price, nil
	}
	if explicit == nil {
		return 0, ValidationError("category %d requires an explicit cost", c.ID)
	}
	if *explicit < 0 {
		return 0, ValidationError("cost must not be negative")
	}
	return *explicit, nil
}
