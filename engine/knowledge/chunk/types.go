package chunk

// Page is the extracted text of one document page prior to chunking.
type Page struct {
	SourceFile string
	// PageNumber is 1-based; nil for sources without page structure.
	PageNumber *int
	Text       string
}

// Settings configures chunking and preprocessing behavior.
type Settings struct {
	Size              int
	Overlap           int
	NormalizeNewlines bool
}

// DefaultSettings mirrors the ingestion defaults.
func DefaultSettings() Settings {
	return Settings{Size: 1000, Overlap: 200, NormalizeNewlines: true}
}
