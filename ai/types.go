package ai

import "slices"

// Labels defines the categories a suggestion may be filed under. They mirror
// the news categories the ingestion adapters are configured with.
var Labels = []string{
	"general",
	"technology",
	"health",
	"sports",
	"politics",
	"science",
	"business",
	"entertainment",
}

// IsLabel reports whether label is one of Labels.
func IsLabel(label string) bool {
	return slices.Contains(Labels, label)
}
