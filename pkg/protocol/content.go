package protocol

// ContentType identifies the kind of a content item.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeResource ContentType = "resource"
)

// Content is a single item in a tool result, prompt message or sampling
// message. Exactly one of Text, Data or Resource is populated according
// to Type.
type Content struct {
	Type ContentType `json:"type"`

	// Text holds the payload of a "text" item.
	Text string `json:"text,omitempty"`

	// Data holds the base64-encoded payload of an "image" item.
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// Resource holds the payload of an embedded "resource" item.
	Resource *ResourceContents `json:"resource,omitempty"`
}

// NewTextContent creates a text content item.
func NewTextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// NewImageContent creates an image content item from base64-encoded data.
func NewImageContent(data, mimeType string) Content {
	return Content{Type: ContentTypeImage, Data: data, MimeType: mimeType}
}

// NewResourceContent embeds resource contents as a content item.
func NewResourceContent(contents ResourceContents) Content {
	return Content{Type: ContentTypeResource, Resource: &contents}
}
