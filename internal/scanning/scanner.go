package scanning

// LabelData contains information extracted from a medicine label
type LabelData struct {
	Name       string `json:"name"`
	Company    string `json:"company"`
	ExpiryDate string `json:"expiry_date"` // MM/YYYY, empty when not found
}

// Scanner defines the interface for label scanning operations
type Scanner interface {
	// ScanLabel analyzes a label photo or leaflet PDF and extracts metadata
	ScanLabel(imageData []byte, contentType string) (*LabelData, error)

	// Close closes the scanner and releases resources
	Close() error
}
