// Package frontmatter parses YAML frontmatter from markdown files.
package frontmatter

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Frontmatter represents parsed YAML frontmatter from a markdown file
type Frontmatter struct {
	Fields  map[string]interface{} // Parsed YAML fields
	Content string                 // Markdown content after frontmatter
}

// HasFrontmatter checks if content has YAML frontmatter.
// Frontmatter must start with "---" on the first line.
func HasFrontmatter(content []byte) bool {
	trimmed := bytes.TrimLeft(content, " \t")
	return bytes.HasPrefix(trimmed, []byte(delimiter+"\n")) ||
		bytes.HasPrefix(trimmed, []byte(delimiter+"\r\n"))
}

// Parse extracts frontmatter from markdown content.
// Returns nil Frontmatter (not error) if no frontmatter present.
func Parse(content []byte) (*Frontmatter, error) {
	if !HasFrontmatter(content) {
		return nil, nil
	}

	trimmed := bytes.TrimLeft(content, " \t")
	afterStart := len(delimiter)
	if afterStart < len(trimmed) && trimmed[afterStart] == '\r' {
		afterStart++
	}
	if afterStart < len(trimmed) && trimmed[afterStart] == '\n' {
		afterStart++
	}

	rest := trimmed[afterStart:]
	end := findClosingDelimiter(rest)
	if end == -1 {
		return nil, nil
	}

	rawYAML := rest[:end]

	contentStart := end + len(delimiter)
	if contentStart < len(rest) && rest[contentStart] == '\r' {
		contentStart++
	}
	if contentStart < len(rest) && rest[contentStart] == '\n' {
		contentStart++
	}
	var markdown string
	if contentStart < len(rest) {
		markdown = string(rest[contentStart:])
	}

	fields := map[string]interface{}{}
	if err := yaml.Unmarshal(rawYAML, &fields); err != nil {
		return nil, fmt.Errorf("invalid YAML frontmatter: %w", err)
	}

	return &Frontmatter{Fields: fields, Content: markdown}, nil
}

// GetString returns a string field, or "" if absent or not a string.
func (f *Frontmatter) GetString(key string) string {
	if f == nil {
		return ""
	}
	value, _ := f.Fields[key].(string)
	return value
}

// findClosingDelimiter finds the "---" line that ends the frontmatter block.
func findClosingDelimiter(content []byte) int {
	offset := 0
	for offset <= len(content) {
		idx := bytes.Index(content[offset:], []byte(delimiter))
		if idx == -1 {
			return -1
		}
		absolute := offset + idx

		atLineStart := absolute == 0 || content[absolute-1] == '\n'
		lineEnd := absolute + len(delimiter)
		atLineEnd := lineEnd >= len(content) || content[lineEnd] == '\n' || content[lineEnd] == '\r'
		if atLineStart && atLineEnd {
			return absolute
		}
		offset = absolute + len(delimiter)
	}
	return -1
}
