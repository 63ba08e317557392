package model

// IndexFormat marks the master index document.
const IndexFormat = "index:1.0"

// Index is the master index regenerated from the catalog files in a
// directory.
// Field order is alphabetical so the output matches sorted-key JSON.
type Index struct {
	Format  string                `json:"format"`
	Index   map[string]IndexEntry `json:"index"`
	Updated string                `json:"updated"`
}

// IndexEntry summarizes one catalog file.
type IndexEntry struct {
	DataType string   `json:"datatype,omitempty"`
	Format   string   `json:"format,omitempty"`
	Path     string   `json:"path"`
	Products []string `json:"products,omitempty"`
	Updated  string   `json:"updated,omitempty"`
}

// NewIndex returns an empty index document stamped with the current time.
func NewIndex() *Index {
	return &Index{
		Format:  IndexFormat,
		Updated: Timestamp(),
		Index:   map[string]IndexEntry{},
	}
}
