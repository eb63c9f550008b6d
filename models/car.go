package models

const (
	DefaultModel = "Unknown"
	DefaultField = "-"
)

// Car is one catalogue entry. Records are immutable once appended.
type Car struct {
	ID        int64    `json:"id"`
	Model     string   `json:"model"`
	Year      string   `json:"year"`
	Price     string   `json:"price"`
	Km        string   `json:"km"`
	Condition string   `json:"condition"`
	Images    []string `json:"images"` // Public asset paths in upload order
}

// CarFields holds the free-text fields of a submission before defaults are applied.
type CarFields struct {
	Model     string
	Year      string
	Price     string
	Km        string
	Condition string
}

// NewCar builds a record from submitted fields, substituting defaults for empty values.
func NewCar(id int64, f CarFields, images []string) Car {
	if images == nil {
		images = []string{}
	}
	return Car{
		ID:        id,
		Model:     orDefault(f.Model, DefaultModel),
		Year:      orDefault(f.Year, DefaultField),
		Price:     orDefault(f.Price, DefaultField),
		Km:        orDefault(f.Km, DefaultField),
		Condition: orDefault(f.Condition, DefaultField),
		Images:    images,
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
