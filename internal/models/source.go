// Package models defines data structures shared by the Grimoire server and client.
package models

import "time"

// SourceType discriminates how Source.URL is interpreted.
type SourceType string

const (
	// SourceTypeFile marks an uploaded file; URL holds the storage key.
	SourceTypeFile SourceType = "file"
	// SourceTypeURL marks an external address; URL holds that address.
	SourceTypeURL SourceType = "url"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	return t == SourceTypeFile || t == SourceTypeURL
}

// Source is one ingested item. It is never mutated after creation.
type Source struct {
	ID        string     `json:"id"`
	Type      SourceType `json:"type"`
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"created_at"`
}

// SourceInput is a Source that has not been persisted yet.
type SourceInput struct {
	Type SourceType
	Name string
	URL  string
}

// URLSource builds the input for an external address.
// Name and URL are both the address itself.
func URLSource(url string) SourceInput {
	return SourceInput{Type: SourceTypeURL, Name: url, URL: url}
}

// FileSource builds the input for an uploaded file stored under key.
func FileSource(filename, key string) SourceInput {
	return SourceInput{Type: SourceTypeFile, Name: filename, URL: key}
}
