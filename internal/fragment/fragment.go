// Package fragment rebuilds the markup of one line from ordered text
// segments, including decimal alignment where the integer part hangs right of
// an alignment column and the fraction hangs left of it.
package fragment

import (
	"bytes"
	"strconv"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Kind tags a segment.
type Kind string

const (
	KindText         Kind = "text"
	KindDecimalPoint Kind = "decimal-point"
)

// Open marks a segment without an explicit end offset.
const Open = -1

// TextSegment is one run of text in a line.
type TextSegment struct {
	Kind  Kind
	Start int
	End   int // Open when absent
	// Node is the caller-owned inline element for the run. Build re-parents it
	// and never touches its content. Segments without a node are skipped.
	Node *html.Node
}

// Alignment is a text alignment. AlignDecimal selects the split layout.
type Alignment string

const (
	AlignLeft    Alignment = "left"
	AlignRight   Alignment = "right"
	AlignCenter  Alignment = "center"
	AlignJustify Alignment = "justify"
	AlignDecimal Alignment = "decimal"
)

// CSS classes of the decimal containers.
const (
	ClassPreDecimal  = "pre-decimal"
	ClassPostDecimal = "post-decimal"
)

// Build returns a detached fragment holding the segments' nodes.
//
// For AlignDecimal the fragment holds two containers split at the decimal
// boundary: the pre-decimal one right-aligned and ending at
// decimalAlignPercent of the line width, the post-decimal one left-aligned
// from there. decimalIndex points at the boundary segment; when negative or
// out of range the first KindDecimalPoint segment is used. Without a boundary
// every segment goes into the pre-decimal container.
func Build(align Alignment, decimalAlignPercent float64, decimalIndex int, segments []TextSegment) *html.Node {
	frag := &html.Node{Type: html.DocumentNode}
	if align != AlignDecimal {
		if align == "" {
			align = AlignLeft
		}
		box := container("", "display:inline-block;width:100%;text-align:"+string(align))
		appendNodes(box, segments)
		frag.AppendChild(box)
		return frag
	}

	p := min(max(decimalAlignPercent, 0), 100)
	pre := container(ClassPreDecimal,
		"position:absolute;right:"+percent(100-p)+";text-align:right;white-space:pre")
	post := container(ClassPostDecimal,
		"position:absolute;left:"+percent(p)+";text-align:left;white-space:pre")

	split := boundary(decimalIndex, segments)
	if split < 0 {
		appendNodes(pre, segments)
	} else {
		appendNodes(pre, segments[:split])
		appendNodes(post, segments[split:])
	}
	frag.AppendChild(pre)
	frag.AppendChild(post)
	return frag
}

// Render serialises a fragment.
func Render(frag *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := frag.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// Span returns an inline element holding text, the usual rendered node of a
// segment.
func Span(class, text string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: "span", DataAtom: atom.Span}
	if class != "" {
		n.Attr = []html.Attribute{{Key: "class", Val: class}}
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return n
}

// Attr returns the value of attribute key of n.
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func boundary(index int, segments []TextSegment) int {
	if index >= 0 && index < len(segments) {
		return index
	}
	for i, seg := range segments {
		if seg.Kind == KindDecimalPoint {
			return i
		}
	}
	return -1
}

func container(class, style string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: "span", DataAtom: atom.Span}
	if class != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "style", Val: style})
	return n
}

func appendNodes(parent *html.Node, segments []TextSegment) {
	for _, seg := range segments {
		if seg.Node == nil {
			continue
		}
		if seg.Node.Parent != nil {
			seg.Node.Parent.RemoveChild(seg.Node)
		}
		parent.AppendChild(seg.Node)
	}
}

func percent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}
