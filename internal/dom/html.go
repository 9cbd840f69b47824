package dom

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlElement wraps an element of an HTMLDocument.
type htmlElement struct {
	node *html.Node
}

func (e htmlElement) Name() string {
	return e.node.Data
}

// HTMLDocument is a Document backed by golang.org/x/net/html.
type HTMLDocument struct {
	root *html.Node
}

func ParseHTML(r io.Reader) (*HTMLDocument, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return &HTMLDocument{root: root}, nil
}

func (d *HTMLDocument) FindAll(tag string) []Node {
	var found []Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
			found = append(found, htmlElement{node: n})
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return found
}

func (d *HTMLDocument) Serialize(node Node) (string, error) {
	n, err := d.element(node)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := html.Render(&sb, cloneHTMLNode(n)); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (d *HTMLDocument) ReplaceWithProxy(node Node, id, text string) (Node, error) {
	n, err := d.element(node)
	if err != nil {
		return nil, err
	}
	if n.Parent == nil || !d.Contains(node) {
		return nil, ErrDetached
	}
	proxy := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Span,
		Data:     ProxyTag,
		Attr:     []html.Attribute{{Key: "id", Val: id}},
	}
	proxy.AppendChild(&html.Node{Type: html.TextNode, Data: text})

	parent := n.Parent
	parent.InsertBefore(proxy, n)
	parent.RemoveChild(n)
	return htmlElement{node: proxy}, nil
}

func (d *HTMLDocument) Contains(node Node) bool {
	n, err := d.element(node)
	if err != nil {
		return false
	}
	for ; n != nil; n = n.Parent {
		if n == d.root {
			return true
		}
	}
	return false
}

func (d *HTMLDocument) ElementByID(id string) (Node, bool) {
	var match *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key == "id" && attr.Val == id {
					match = n
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if !walk(d.root) {
		return nil, false
	}
	return htmlElement{node: match}, true
}

func (d *HTMLDocument) TextContent(node Node) string {
	n, err := d.element(node)
	if err != nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func (d *HTMLDocument) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

func (d *HTMLDocument) element(node Node) (*html.Node, error) {
	e, ok := node.(htmlElement)
	if !ok || e.node == nil {
		return nil, ErrForeignNode
	}
	return e.node, nil
}

// cloneHTMLNode deep-copies n without its parent and siblings.
func cloneHTMLNode(n *html.Node) *html.Node {
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      make([]html.Attribute, len(n.Attr)),
	}
	copy(clone.Attr, n.Attr)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		clone.AppendChild(cloneHTMLNode(c))
	}
	return clone
}
