package diagram

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attributes that mark the isolation boundary around rendered markup.
const (
	ContainerAttr = "data-diagram-container"
	WrapperAttr   = "data-diagram-wrapper"
	IDAttr        = "data-diagram-id"
	SVGAttr       = "data-diagram-svg"
	InternalAttr  = "data-diagram-internal"
	IsolatedClass = "diagram-isolated"

	wrapperStyle = "display: flex; contain: layout paint style; isolation: isolate;"
	svgStyle     = "max-width: 100%; height: auto; overflow: hidden;"
)

// Isolate parses markup into a fragment and wraps it in a container that
// establishes its own layout and stacking context.
//
// When the markup holds an <svg> element only that element is kept; it and
// every descendant element are tagged so the boundary can be found later.
func Isolate(id, markup string) (*html.Node, error) {
	if strings.TrimSpace(markup) == "" {
		return nil, ErrEmptyMarkup
	}

	context := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return nil, fmt.Errorf("parse diagram markup: %w", err)
	}
	if len(nodes) == 0 {
		return nil, ErrEmptyMarkup
	}

	wrapper := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr: []html.Attribute{
			{Key: WrapperAttr, Val: "true"},
			{Key: IDAttr, Val: id},
			{Key: "style", Val: wrapperStyle},
		},
	}

	var svg *html.Node
	for _, n := range nodes {
		if svg = findElement(n, "svg"); svg != nil {
			break
		}
	}

	if svg == nil {
		for _, n := range nodes {
			wrapper.AppendChild(n)
		}
		return wrapper, nil
	}

	if svg.Parent != nil {
		svg.Parent.RemoveChild(svg)
	}
	style := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(getAttr(svg, "style")), ";"))
	if style != "" {
		style += "; "
	}
	setAttr(svg, "style", style+svgStyle)
	setAttr(svg, SVGAttr, "true")
	setAttr(svg, "class", strings.TrimSpace(getAttr(svg, "class")+" "+IsolatedClass))
	walkElements(svg.FirstChild, func(n *html.Node) {
		setAttr(n, InternalAttr, "true")
	})
	wrapper.AppendChild(svg)
	return wrapper, nil
}

// Container is a host element that receives isolated markup. Its content is
// only ever swapped as a whole.
type Container struct {
	mu   sync.Mutex
	root *html.Node
}

// NewContainer creates an empty host element for the block id.
func NewContainer(id string) *Container {
	return &Container{
		root: &html.Node{
			Type:     html.ElementNode,
			Data:     "div",
			DataAtom: atom.Div,
			Attr: []html.Attribute{
				{Key: ContainerAttr, Val: "true"},
				{Key: IDAttr, Val: id},
			},
		},
	}
}

// Replace clears the container and appends n.
func (c *Container) Replace(n *html.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	c.root.AppendChild(n)
}

// Clear removes all content.
func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Container) clearLocked() {
	for child := c.root.FirstChild; child != nil; child = c.root.FirstChild {
		c.root.RemoveChild(child)
	}
}

// Empty reports whether the container holds no content.
func (c *Container) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root.FirstChild == nil
}

// InnerHTML renders the container content.
func (c *Container) InnerHTML() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf bytes.Buffer
	for child := c.root.FirstChild; child != nil; child = child.NextSibling {
		_ = html.Render(&buf, child)
	}
	return buf.String()
}

// Wrapper returns the isolation wrapper currently displayed, or nil.
func (c *Container) Wrapper() *html.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	for child := c.root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && getAttr(child, WrapperAttr) == "true" {
			return child
		}
	}
	return nil
}

// SVG renders the displayed <svg> element on its own, or returns "" when
// there is none.
func (c *Container) SVG() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	svg := findElement(c.root, "svg")
	if svg == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, svg); err != nil {
		return ""
	}
	return buf.String()
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, name); found != nil {
			return found
		}
	}
	return nil
}

func walkElements(n *html.Node, fn func(*html.Node)) {
	for ; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode {
			fn(n)
		}
		walkElements(n.FirstChild, fn)
	}
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
