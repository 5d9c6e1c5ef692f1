package model

// Dataset is catalog metadata for one imagery collection.
type Dataset struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}
