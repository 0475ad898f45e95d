// Package caret maps linear character offsets onto text leaves of an HTML
// node tree.
package caret

import (
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Outcome tells whether Locate placed the caret.
type Outcome int

const (
	// Unresolved means the offset lies past the searched subtree.
	Unresolved Outcome = iota
	// Applied means the caret was placed.
	Applied
)

func (o Outcome) String() string {
	if o == Applied {
		return "applied"
	}
	return "unresolved"
}

// Result is the outcome of Locate. Remaining is the part of the offset not
// consumed by the searched subtree and is only meaningful when Unresolved.
type Result struct {
	Outcome   Outcome
	Remaining int
}

// Setter receives the caret position. It stands for the selection state of
// the surface that owns the tree.
type Setter interface {
	Collapse(n *html.Node, offset int)
}

// Selection is a collapsed selection: a text node and a rune offset into it.
type Selection struct {
	Node   *html.Node
	Offset int
}

func (s *Selection) Collapse(n *html.Node, offset int) {
	s.Node = n
	s.Offset = offset
}

// Length returns the rune count of the text content of n.
func Length(n *html.Node) int {
	if n == nil {
		return 0
	}
	switch n.Type {
	case html.TextNode:
		return utf8.RuneCountInString(n.Data)
	case html.CommentNode, html.DoctypeNode:
		return 0
	}
	total := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		total += Length(c)
	}
	return total
}

// Locate places the caret offset runes into the text of n. The first leaf
// whose end reaches the offset wins, so an offset equal to a leaf's length
// lands at the end of that leaf rather than the start of the next one.
func Locate(n *html.Node, offset int, sel Setter) Result {
	if remaining, ok := locate(n, offset, sel); !ok {
		return Result{Outcome: Unresolved, Remaining: remaining}
	}
	return Result{Outcome: Applied}
}

// locate walks text leaves in document order, each visited once.
func locate(n *html.Node, offset int, sel Setter) (int, bool) {
	if n == nil {
		return offset, false
	}
	switch n.Type {
	case html.TextNode:
		length := utf8.RuneCountInString(n.Data)
		if offset <= length {
			sel.Collapse(n, offset)
			return 0, true
		}
		return offset - length, false
	case html.CommentNode, html.DoctypeNode:
		return offset, false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		var ok bool
		if offset, ok = locate(c, offset, sel); ok {
			return 0, true
		}
	}
	return offset, false
}

// Place is Locate with the clamping callers owe an unreachable offset: the
// caret goes to the end of the last text leaf. It reports whether clamping
// happened. A tree without text leaves leaves sel untouched.
func Place(root *html.Node, offset int, sel Setter) (clamped bool) {
	if offset < 0 {
		offset = 0
		clamped = true
	}
	if Locate(root, offset, sel).Outcome == Applied {
		return clamped
	}
	if last := lastText(root); last != nil {
		sel.Collapse(last, utf8.RuneCountInString(last.Data))
	}
	return true
}

// OffsetOf is the inverse of Locate: the linear offset of the position
// offset runes into text node target. ok is false when target is not a text
// node under root.
func OffsetOf(root, target *html.Node, offset int) (pos int, ok bool) {
	if root == nil || target == nil || target.Type != html.TextNode {
		return 0, false
	}
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n == target {
			pos += min(max(offset, 0), utf8.RuneCountInString(n.Data))
			return true
		}
		if n.Type == html.TextNode {
			pos += utf8.RuneCountInString(n.Data)
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if !walk(root) {
		return 0, false
	}
	return pos, true
}

func lastText(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.TextNode {
		return n
	}
	for c := n.LastChild; c != nil; c = c.PrevSibling {
		if t := lastText(c); t != nil {
			return t
		}
	}
	return nil
}
