package models

// Category is a classification label. Titles are unique.
type Category struct {
	Title string `json:"title" yaml:"title"`
}
