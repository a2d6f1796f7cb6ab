package entity

import "fmt"

// Content is the shape-specific payload. EmbeddableFields returns the fields
// the content hash and the embedder see; everything else is carried but not
// hashed.
type Content interface {
	Shape() Shape
	EmbeddableFields() map[string]any
	// Text returns the embeddable text for chunking.
	Text() string
}

// ChunkContent is a pre-chunked piece of text.
type ChunkContent struct {
	TextContent string         `json:"text"`
	Context     map[string]any `json:"context,omitempty"`
}

func (c *ChunkContent) Shape() Shape { return ShapeChunk }
func (c *ChunkContent) Text() string { return c.TextContent }
func (c *ChunkContent) EmbeddableFields() map[string]any {
	return map[string]any{"text": c.TextContent}
}

// FileContent is a file pulled from a source.
type FileContent struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Body     string `json:"body"`
}

func (c *FileContent) Shape() Shape { return ShapeFile }
func (c *FileContent) Text() string { return c.Body }
func (c *FileContent) EmbeddableFields() map[string]any {
	return map[string]any{"name": c.Name, "body": c.Body}
}

// WebContent is a crawled page.
type WebContent struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (c *WebContent) Shape() Shape { return ShapeWeb }
func (c *WebContent) Text() string { return c.Body }
func (c *WebContent) EmbeddableFields() map[string]any {
	return map[string]any{"url": c.URL, "title": c.Title, "body": c.Body}
}

// CodeContent is a source file.
type CodeContent struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Body     string `json:"body"`
}

func (c *CodeContent) Shape() Shape { return ShapeCode }
func (c *CodeContent) Text() string { return c.Body }
func (c *CodeContent) EmbeddableFields() map[string]any {
	return map[string]any{"path": c.Path, "body": c.Body}
}

// EmailContent is a message.
type EmailContent struct {
	Subject string   `json:"subject"`
	From    string   `json:"from"`
	To      []string `json:"to,omitempty"`
	Body    string   `json:"body"`
}

func (c *EmailContent) Shape() Shape { return ShapeEmail }
func (c *EmailContent) Text() string { return c.Body }
func (c *EmailContent) EmbeddableFields() map[string]any {
	return map[string]any{"subject": c.Subject, "from": c.From, "body": c.Body}
}

// newContent allocates the concrete type for a shape tag.
func newContent(shape Shape) (Content, error) {
	switch shape {
	case ShapeChunk:
		return &ChunkContent{}, nil
	case ShapeFile:
		return &FileContent{}, nil
	case ShapeWeb:
		return &WebContent{}, nil
	case ShapeCode:
		return &CodeContent{}, nil
	case ShapeEmail:
		return &EmailContent{}, nil
	default:
		return nil, fmt.Errorf("entity: unknown content shape %q", shape)
	}
}
