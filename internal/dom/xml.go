package dom

import (
	"io"
	"sort"
	"strings"

	"github.com/beevik/etree"
)

// xmlElement wraps an element of an XMLDocument.
type xmlElement struct {
	el *etree.Element
}

func (e xmlElement) Name() string {
	return e.el.Tag
}

// XMLDocument is a Document backed by github.com/beevik/etree, used for
// XHTML and standalone MathML sources.
type XMLDocument struct {
	doc *etree.Document
}

func ParseXML(r io.Reader) (*XMLDocument, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, err
	}
	return &XMLDocument{doc: doc}, nil
}

func (d *XMLDocument) FindAll(tag string) []Node {
	var found []Node
	var walk func(*etree.Element)
	walk = func(el *etree.Element) {
		if el.Tag == tag {
			found = append(found, xmlElement{el: el})
			return
		}
		for _, child := range el.ChildElements() {
			walk(child)
		}
	}
	walk(&d.doc.Element)
	return found
}

func (d *XMLDocument) Serialize(node Node) (string, error) {
	el, err := d.element(node)
	if err != nil {
		return "", err
	}
	root := el.Copy()
	declareInheritedNamespaces(el, root)
	out := etree.NewDocument()
	out.AddChild(root)
	return out.WriteToString()
}

// declareInheritedNamespaces adds to root the declarations, taken from the
// ancestors of source, of every prefix the subtree uses without binding.
func declareInheritedNamespaces(source, root *etree.Element) {
	unbound := make(map[string]bool)
	collectUnboundPrefixes(root, nil, unbound)
	if len(unbound) == 0 {
		return
	}
	prefixes := make([]string, 0, len(unbound))
	for prefix := range unbound {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		for ancestor := source.Parent(); ancestor != nil; ancestor = ancestor.Parent() {
			if attr := namespaceDeclaration(ancestor, prefix); attr != nil {
				root.CreateAttr(attr.FullKey(), attr.Value)
				break
			}
		}
	}
}

// collectUnboundPrefixes records prefixes used by el or its descendants that
// no element on the path from the subtree root declares. The empty prefix
// stands for the default namespace.
func collectUnboundPrefixes(el *etree.Element, bound map[string]bool, unbound map[string]bool) {
	scope := make(map[string]bool, len(bound)+len(el.Attr))
	for prefix := range bound {
		scope[prefix] = true
	}
	for _, attr := range el.Attr {
		switch {
		case attr.Space == "xmlns":
			scope[attr.Key] = true
		case attr.Space == "" && attr.Key == "xmlns":
			scope[""] = true
		}
	}

	if !scope[el.Space] {
		unbound[el.Space] = true
	}
	for _, attr := range el.Attr {
		if attr.Space == "" || attr.Space == "xmlns" || attr.Space == "xml" {
			continue
		}
		if !scope[attr.Space] {
			unbound[attr.Space] = true
		}
	}
	for _, child := range el.ChildElements() {
		collectUnboundPrefixes(child, scope, unbound)
	}
}

func namespaceDeclaration(el *etree.Element, prefix string) *etree.Attr {
	for i := range el.Attr {
		attr := &el.Attr[i]
		if prefix == "" && attr.Space == "" && attr.Key == "xmlns" {
			return attr
		}
		if prefix != "" && attr.Space == "xmlns" && attr.Key == prefix {
			return attr
		}
	}
	return nil
}

func (d *XMLDocument) ReplaceWithProxy(node Node, id, text string) (Node, error) {
	el, err := d.element(node)
	if err != nil {
		return nil, err
	}
	parent := el.Parent()
	if parent == nil || !d.Contains(node) {
		return nil, ErrDetached
	}
	index := el.Index()
	proxy := etree.NewElement(ProxyTag)
	proxy.CreateAttr("id", id)
	proxy.SetText(text)

	parent.RemoveChildAt(index)
	parent.InsertChildAt(index, proxy)
	return xmlElement{el: proxy}, nil
}

func (d *XMLDocument) Contains(node Node) bool {
	el, err := d.element(node)
	if err != nil {
		return false
	}
	for ; el != nil; el = el.Parent() {
		if el == &d.doc.Element {
			return true
		}
	}
	return false
}

func (d *XMLDocument) ElementByID(id string) (Node, bool) {
	var walk func(*etree.Element) *etree.Element
	walk = func(el *etree.Element) *etree.Element {
		if attr := el.SelectAttr("id"); attr != nil && attr.Value == id {
			return el
		}
		for _, child := range el.ChildElements() {
			if match := walk(child); match != nil {
				return match
			}
		}
		return nil
	}
	match := walk(&d.doc.Element)
	if match == nil {
		return nil, false
	}
	return xmlElement{el: match}, true
}

func (d *XMLDocument) TextContent(node Node) string {
	el, err := d.element(node)
	if err != nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*etree.Element)
	walk = func(el *etree.Element) {
		for _, token := range el.Child {
			switch typed := token.(type) {
			case *etree.Element:
				walk(typed)
			case *etree.CharData:
				sb.WriteString(typed.Data)
			}
		}
	}
	walk(el)
	return sb.String()
}

func (d *XMLDocument) Render(w io.Writer) error {
	_, err := d.doc.WriteTo(w)
	return err
}

func (d *XMLDocument) element(node Node) (*etree.Element, error) {
	e, ok := node.(xmlElement)
	if !ok || e.el == nil {
		return nil, ErrForeignNode
	}
	return e.el, nil
}
