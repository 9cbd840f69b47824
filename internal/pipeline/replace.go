package pipeline

import (
	"fmt"
	"strconv"

	"mathbridge/internal/catalog"
	"mathbridge/internal/dom"
	"mathbridge/internal/logging"
)

const proxyIDPrefix = "mathExpression"

// ProxyID is the element id of the proxy standing for expression index.
func ProxyID(index int) string {
	return proxyIDPrefix + strconv.Itoa(index)
}

// Binder attaches the disclosure handler for an expression to its proxy.
type Binder interface {
	Bind(index int)
}

// Replacement swaps a translated expression for its proxy element.
type Replacement struct {
	doc     dom.Document
	catalog *catalog.Catalog
	binder  Binder
	logger  *logging.Logger
}

func NewReplacement(doc dom.Document, cat *catalog.Catalog, binder Binder, logger *logging.Logger) *Replacement {
	return &Replacement{doc: doc, catalog: cat, binder: binder, logger: logger}
}

// Replace puts a proxy carrying text where the expression's anchor is, then
// records the translation and binds the proxy's disclosure handler.
func (r *Replacement) Replace(index int, text string) error {
	expr, err := r.catalog.Expression(index)
	if err != nil {
		return err
	}
	if expr.Translated() {
		return fmt.Errorf("replace %d: %w", index, catalog.ErrTranslated)
	}

	proxy, err := r.doc.ReplaceWithProxy(expr.Anchor, ProxyID(index), text)
	if err != nil {
		return err
	}
	if err := r.catalog.SetTranslation(index, text); err != nil {
		return err
	}
	if err := r.catalog.SetAnchor(index, proxy); err != nil {
		return err
	}
	if r.binder != nil {
		r.binder.Bind(index)
	}
	r.logger.Debug("expression replaced", map[string]string{
		"index": strconv.Itoa(index),
		"proxy": ProxyID(index),
	})
	return nil
}
