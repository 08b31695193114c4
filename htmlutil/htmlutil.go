// Package htmlutil provides HTML tree helpers for feed scraping.
package htmlutil

import (
	"strings"

	"golang.org/x/net/html"
)

// Attr returns the value of the named attribute, or "".
func Attr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// SetAttr sets or replaces the named attribute.
func SetAttr(n *html.Node, key, val string) {
	for i, attr := range n.Attr {
		if attr.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// HasClass reports whether the element carries the given class.
func HasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(Attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// AddClass adds a class to the element, preserving existing ones.
func AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	existing := Attr(n, "class")
	if existing == "" {
		SetAttr(n, "class", class)
		return
	}
	SetAttr(n, "class", existing+" "+class)
}

// RemoveClass removes a class from the element if present.
func RemoveClass(n *html.Node, class string) {
	fields := strings.Fields(Attr(n, "class"))
	kept := fields[:0]
	for _, c := range fields {
		if c != class {
			kept = append(kept, c)
		}
	}
	SetAttr(n, "class", strings.Join(kept, " "))
}

// FindByClass returns the first element in the subtree carrying the class,
// in document order, including n itself.
func FindByClass(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode && HasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := FindByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

// CollectByClass appends every element in the subtree carrying the class, in
// document order, including n itself.
func CollectByClass(n *html.Node, class string, out *[]*html.Node) {
	if n.Type == html.ElementNode && HasClass(n, class) {
		*out = append(*out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		CollectByClass(c, class, out)
	}
}

// Links returns every anchor element with an href in the subtree, in
// document order.
func Links(n *html.Node) []*html.Node {
	var links []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "a" && Attr(node, "href") != "" {
			links = append(links, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return links
}

// Text returns the concatenated text content of the subtree, trimmed.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// Ancestor returns the nearest ancestor of n (or n itself) carrying the
// class, or nil.
func Ancestor(n *html.Node, class string) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && HasClass(cur, class) {
			return cur
		}
	}
	return nil
}
