// Package dom provides the document capability the bridge operates on: a
// query for math markup, serialization of a node's subtree, and in-place
// replacement of a node by a text proxy element.
package dom

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// MathTag is the element name of math markup nodes.
const MathTag = "math"

// ProxyTag is the element created in place of a translated expression.
const ProxyTag = "span"

var (
	ErrDetached    = errors.New("node is not attached to the document")
	ErrForeignNode = errors.New("node belongs to a different document backend")
)

// Node is an opaque handle to an element of a Document. Handles are
// comparable: two handles are equal when they refer to the same element.
type Node interface {
	Name() string
}

// Document is a mutable markup tree.
type Document interface {
	// FindAll returns every element named tag in document order. Elements
	// nested inside a match are not returned separately.
	FindAll(tag string) []Node
	// Serialize returns the markup of node and its subtree as it is now.
	Serialize(node Node) (string, error)
	// ReplaceWithProxy swaps node for a new proxy element carrying id and
	// text, at the same position under the same parent.
	ReplaceWithProxy(node Node, id, text string) (Node, error)
	// Contains reports whether node is reachable from the document root.
	Contains(node Node) bool
	// ElementByID finds the first element whose id attribute equals id.
	ElementByID(id string) (Node, bool)
	// TextContent concatenates the text beneath node.
	TextContent(node Node) string
	// Render writes the whole document.
	Render(w io.Writer) error
}

// Kind selects the parser used for a document.
type Kind string

const (
	KindHTML Kind = "html"
	KindXML  Kind = "xml"
)

// ParseKind accepts "html", "xml" or "xhtml".
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "html", "htm":
		return KindHTML, nil
	case "xml", "xhtml":
		return KindXML, nil
	default:
		return "", fmt.Errorf("unknown document kind %q", value)
	}
}

// KindFromPath guesses the document kind from a file extension.
func KindFromPath(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xhtml", ".xht", ".xml", ".mml":
		return KindXML
	default:
		return KindHTML
	}
}

// Parse reads a document of the given kind.
func Parse(r io.Reader, kind Kind) (Document, error) {
	switch kind {
	case KindXML:
		return ParseXML(r)
	case KindHTML, "":
		return ParseHTML(r)
	default:
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}
}
