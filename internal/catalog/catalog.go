// Package catalog holds the ordered set of math expressions found in a
// document when a session is activated.
package catalog

import (
	"errors"
	"fmt"

	"mathbridge/internal/dom"
)

var (
	ErrIndexOutOfRange = errors.New("expression index out of range")
	ErrTranslated      = errors.New("expression already translated")
	ErrNoOriginal      = errors.New("expression has no recorded original")
)

// Expression is one discovered math node.
type Expression struct {
	Index int
	// Original is the serialized markup recorded when the expression was
	// last sent for translation. Empty until recorded.
	Original    string
	recorded    bool
	Translation string
	translated  bool
	// Anchor is the node currently standing for the expression in the
	// document: the math node, then its proxy.
	Anchor dom.Node
}

// Recorded reports whether an original has been stored.
func (e Expression) Recorded() bool {
	return e.recorded
}

// Translated reports whether a translation has been stored.
func (e Expression) Translated() bool {
	return e.translated
}

// Catalog is fixed in length and order after Scan.
type Catalog struct {
	expressions []Expression
}

// Scan queries doc once for every math node, in document order.
func Scan(doc dom.Document) *Catalog {
	nodes := doc.FindAll(dom.MathTag)
	expressions := make([]Expression, len(nodes))
	for i, node := range nodes {
		expressions[i] = Expression{Index: i, Anchor: node}
	}
	return &Catalog{expressions: expressions}
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.expressions)
}

func (c *Catalog) Empty() bool {
	return c.Len() == 0
}

// Expression returns a copy of the expression at index.
func (c *Catalog) Expression(index int) (Expression, error) {
	if err := c.check(index); err != nil {
		return Expression{}, err
	}
	return c.expressions[index], nil
}

// RecordOriginal stores the serialized markup for index. It may be updated
// until the expression is translated.
func (c *Catalog) RecordOriginal(index int, markup string) error {
	if err := c.check(index); err != nil {
		return err
	}
	expr := &c.expressions[index]
	if expr.translated {
		return fmt.Errorf("record original %d: %w", index, ErrTranslated)
	}
	expr.Original = markup
	expr.recorded = true
	return nil
}

// Original returns the recorded markup for index.
func (c *Catalog) Original(index int) (string, error) {
	if err := c.check(index); err != nil {
		return "", err
	}
	expr := c.expressions[index]
	if !expr.recorded {
		return "", fmt.Errorf("original %d: %w", index, ErrNoOriginal)
	}
	return expr.Original, nil
}

// SetTranslation stores text for index. Each index accepts one translation.
func (c *Catalog) SetTranslation(index int, text string) error {
	if err := c.check(index); err != nil {
		return err
	}
	expr := &c.expressions[index]
	if expr.translated {
		return fmt.Errorf("set translation %d: %w", index, ErrTranslated)
	}
	expr.Translation = text
	expr.translated = true
	return nil
}

func (c *Catalog) Anchor(index int) (dom.Node, error) {
	if err := c.check(index); err != nil {
		return nil, err
	}
	return c.expressions[index].Anchor, nil
}

func (c *Catalog) SetAnchor(index int, node dom.Node) error {
	if err := c.check(index); err != nil {
		return err
	}
	c.expressions[index].Anchor = node
	return nil
}

// Translated counts expressions that have a translation.
func (c *Catalog) Translated() int {
	if c == nil {
		return 0
	}
	count := 0
	for _, expr := range c.expressions {
		if expr.translated {
			count++
		}
	}
	return count
}

func (c *Catalog) check(index int) error {
	if index < 0 || index >= c.Len() {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, c.Len())
	}
	return nil
}
