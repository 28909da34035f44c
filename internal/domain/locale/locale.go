// Package locale holds the bilingual text pairs used by admin-managed content.
package locale

// Text is a value shown to customers in both supported languages.
type Text struct {
	EN string `json:"en" validate:"required,max=200"`
	AR string `json:"ar" validate:"max=200"`
}

// OptionalText is Text without the required English value, used for
// descriptions.
type OptionalText struct {
	EN string `json:"en" validate:"max=2000"`
	AR string `json:"ar" validate:"max=2000"`
}
