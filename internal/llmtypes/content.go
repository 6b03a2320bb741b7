package llmtypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentPartType identifies a multimodal part
type ContentPartType string

const (
	PartText        ContentPartType = "text"
	PartImageBase64 ContentPartType = "image_base64"
	PartImageURL    ContentPartType = "image_url"
)

// ContentPart is one typed piece of multimodal content
type ContentPart struct {
	Type      ContentPartType `json:"type"`
	Text      string          `json:"text,omitempty"`
	MediaType string          `json:"media_type,omitempty"` // e.g. image/png, for base64 images
	Data      string          `json:"data,omitempty"`       // base64 payload
	URL       string          `json:"url,omitempty"`
}

// Content is either a plain string or an ordered list of parts.
// On the wire it encodes as a JSON string when Parts is nil, otherwise as an array.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent builds plain text content
func TextContent(text string) Content {
	return Content{Text: text}
}

// PartsContent builds multimodal content
func PartsContent(parts ...ContentPart) Content {
	return Content{Parts: parts}
}

// IsMultipart reports whether the content is a part list
func (c Content) IsMultipart() bool {
	return c.Parts != nil
}

// IsEmpty reports whether the content carries nothing
func (c Content) IsEmpty() bool {
	if c.Parts == nil {
		return c.Text == ""
	}
	for _, p := range c.Parts {
		if p.Type != PartText || p.Text != "" {
			return false
		}
	}
	return true
}

// AsText concatenates every text part, ignoring images
func (c Content) AsText() string {
	if c.Parts == nil {
		return c.Text
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// HasImages reports whether any part is an image
func (c Content) HasImages() bool {
	for _, p := range c.Parts {
		if p.Type == PartImageBase64 || p.Type == PartImageURL {
			return true
		}
	}
	return false
}

// MapText returns a copy with fn applied to every text segment
func (c Content) MapText(fn func(string) string) Content {
	if c.Parts == nil {
		return Content{Text: fn(c.Text)}
	}
	parts := make([]ContentPart, len(c.Parts))
	for i, p := range c.Parts {
		if p.Type == PartText {
			p.Text = fn(p.Text)
		}
		parts[i] = p
	}
	return Content{Parts: parts}
}

func (c Content) clone() Content {
	if c.Parts == nil {
		return c
	}
	return Content{Text: c.Text, Parts: append([]ContentPart{}, c.Parts...)}
}

// MarshalJSON encodes the content as a string or an array of parts
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// UnmarshalJSON accepts a string, an array of parts or null
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		if parts == nil {
			parts = []ContentPart{}
		}
		*c = Content{Parts: parts}
		return nil
	default:
		return fmt.Errorf("content must be a string or an array of parts")
	}
}
