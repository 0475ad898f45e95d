package editor

import (
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"
	"golang.org/x/net/html"

	"github.com/kobzarvs/qfield/internal/caret"
	"github.com/kobzarvs/qfield/internal/fragment"
	"github.com/kobzarvs/qfield/internal/logger"
	"github.com/kobzarvs/qfield/internal/segment"
	"github.com/kobzarvs/qfield/internal/store"
)

// Options configure a Field.
type Options struct {
	Name                string
	Label               string
	Align               fragment.Alignment
	DecimalAlignPercent float64
	Initial             string
	// Commit receives values pushed back to the owner.
	Commit func(name, value string)
	// Segmenter tokenizes the value for fragments; nil renders it as one run.
	Segmenter    *segment.Segmenter
	StoreOptions []store.Option
}

// Field is a single-line editing surface over a debounced store.
type Field struct {
	name    string
	label   string
	align   fragment.Alignment
	percent float64
	seg     *segment.Segmenter
	store   *store.Store[string]
	caret   int // rune offset
}

func NewField(opts Options) *Field {
	f := &Field{
		name:    opts.Name,
		label:   opts.Label,
		align:   opts.Align,
		percent: opts.DecimalAlignPercent,
		seg:     opts.Segmenter,
	}
	if f.label == "" {
		f.label = f.name
	}
	commit := func(v string) {
		if opts.Commit != nil {
			opts.Commit(f.name, v)
		}
	}
	f.store = store.New(opts.Initial, commit, store.Hooks[string]{
		DebouncedCommit: func(v string) {
			logger.Debug("field committed", "field", f.name, "len", len(v))
		},
	}, opts.StoreOptions...)
	f.caret = len([]rune(opts.Initial))
	return f
}

func (f *Field) Name() string  { return f.name }
func (f *Field) Label() string { return f.label }

// Value returns the value being edited.
func (f *Field) Value() string {
	return f.store.CurrentValue()
}

// Caret returns the caret as a rune offset into Value.
func (f *Field) Caret() int {
	return min(f.caret, len([]rune(f.Value())))
}

// Store exposes the underlying store for inspection.
func (f *Field) Store() *store.Store[string] {
	return f.store
}

// Saved reports whether the owner holds the current value.
func (f *Field) Saved() bool {
	return f.store.Synced()
}

func (f *Field) Insert(text string) {
	if text == "" {
		return
	}
	v := []rune(f.Value())
	c := f.Caret()
	ins := []rune(text)
	next := make([]rune, 0, len(v)+len(ins))
	next = append(next, v[:c]...)
	next = append(next, ins...)
	next = append(next, v[c:]...)
	f.caret = c + len(ins)
	f.store.SetCurrentValue(string(next))
}

// Backspace deletes the grapheme cluster before the caret.
func (f *Field) Backspace() {
	v := []rune(f.Value())
	c := f.Caret()
	if c == 0 {
		return
	}
	start := prevBoundary(string(v), c)
	f.caret = start
	f.store.SetCurrentValue(string(append(v[:start:start], v[c:]...)))
}

// Delete deletes the grapheme cluster after the caret.
func (f *Field) Delete() {
	v := []rune(f.Value())
	c := f.Caret()
	if c >= len(v) {
		return
	}
	end := nextBoundary(string(v), c)
	f.store.SetCurrentValue(string(append(v[:c:c], v[end:]...)))
}

func (f *Field) MoveLeft() {
	f.caret = prevBoundary(f.Value(), f.Caret())
}

func (f *Field) MoveRight() {
	f.caret = nextBoundary(f.Value(), f.Caret())
}

func (f *Field) Home() {
	f.caret = 0
}

func (f *Field) End() {
	f.caret = len([]rune(f.Value()))
}

func (f *Field) Undo() {
	before := f.Value()
	f.store.Undo(1)
	f.followChange(before)
}

func (f *Field) Redo() {
	before := f.Value()
	f.store.Redo(1)
	f.followChange(before)
}

// Commit pushes the current value to the owner now, as on blur.
func (f *Field) Commit() {
	f.store.ForceUpdate()
}

// Reset applies a value changed by the owner.
func (f *Field) Reset(external string) {
	before := f.Value()
	f.store.Reconcile(external)
	f.followChange(before)
}

func (f *Field) Close() {
	f.store.Close()
}

// followChange puts the caret at the end of the changed region.
func (f *Field) followChange(before string) {
	after := f.Value()
	if after == before {
		return
	}
	a, b := []rune(before), []rune(after)
	suffix := 0
	for suffix < len(a) && suffix < len(b) && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	f.caret = len(b) - suffix
}

// Fragment builds the markup of the current value.
func (f *Field) Fragment() *html.Node {
	v := f.Value()
	var segs []fragment.TextSegment
	if f.seg != nil {
		segs = f.seg.Split(v)
	} else if v != "" {
		segs = []fragment.TextSegment{{
			Kind: fragment.KindText,
			End:  len([]rune(v)),
			Node: fragment.Span(segment.ClassPlain, v),
		}}
	}
	return fragment.Build(f.align, f.percent, -1, segs)
}

// HTML renders Fragment.
func (f *Field) HTML() (string, error) {
	return fragment.Render(f.Fragment())
}

// CaretToken returns the token class of the run holding the caret.
func (f *Field) CaretToken() string {
	frag := f.Fragment()
	var sel caret.Selection
	caret.Place(frag, f.Caret(), &sel)
	if sel.Node == nil || sel.Node.Parent == nil {
		return ""
	}
	return fragment.Attr(sel.Node.Parent, "class")
}

// Styles used by Render.
type Styles struct {
	Normal  tcell.Style
	Label   tcell.Style
	Focus   tcell.Style
	Pending tcell.Style
}

// Render draws the field on row y and returns the caret column.
func (f *Field) Render(s tcell.Screen, y, labelWidth int, st Styles, focused bool) int {
	w, _ := s.Size()
	clearLine(s, y, w, st.Normal)
	labelStyle := st.Label
	if !f.Saved() {
		labelStyle = st.Pending
	}
	drawText(s, 0, y, labelWidth, runewidth.Truncate(f.label, labelWidth-1, ""), labelStyle)

	area := w - labelWidth
	if area <= 0 {
		return w - 1
	}
	valueStyle := st.Normal
	if focused {
		valueStyle = st.Focus
		for x := labelWidth; x < w; x++ {
			s.SetContent(x, y, ' ', nil, valueStyle)
		}
	}

	pre, post := f.layoutParts()
	col := labelWidth
	switch f.align {
	case fragment.AlignDecimal:
		split := labelWidth + int(float64(area)*min(max(f.percent, 0), 100)/100)
		col = max(split-runewidth.StringWidth(pre), labelWidth)
	case fragment.AlignRight:
		col = max(w-runewidth.StringWidth(pre), labelWidth)
	case fragment.AlignCenter:
		col = labelWidth + max((area-runewidth.StringWidth(pre))/2, 0)
	}
	end := drawText(s, col, y, w, pre, valueStyle)
	drawText(s, end, y, w, post, valueStyle)

	before := string([]rune(f.Value())[:f.Caret()])
	return min(col+runewidth.StringWidth(before), w-1)
}

// layoutParts returns the text of the fragment's containers: the whole value
// for plain alignments, the pre- and post-decimal halves otherwise.
func (f *Field) layoutParts() (string, string) {
	frag := f.Fragment()
	first := frag.FirstChild
	if first == nil {
		return "", ""
	}
	if first.NextSibling == nil {
		return textContent(first), ""
	}
	return textContent(first), textContent(first.NextSibling)
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var out string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out += textContent(c)
	}
	return out
}

func drawText(s tcell.Screen, x, y, limit int, text string, style tcell.Style) int {
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		runes := g.Runes()
		cw := runewidth.StringWidth(g.Str())
		if x+cw > limit {
			break
		}
		s.SetContent(x, y, runes[0], runes[1:], style)
		x += cw
	}
	return x
}

func clearLine(s tcell.Screen, y, w int, style tcell.Style) {
	for x := 0; x < w; x++ {
		s.SetContent(x, y, ' ', nil, style)
	}
}

// boundaries returns the rune offsets of grapheme cluster starts plus the end.
func boundaries(s string) []int {
	out := []int{0}
	g := uniseg.NewGraphemes(s)
	pos := 0
	for g.Next() {
		pos += len(g.Runes())
		out = append(out, pos)
	}
	return out
}

func prevBoundary(s string, c int) int {
	prev := 0
	for _, b := range boundaries(s) {
		if b >= c {
			break
		}
		prev = b
	}
	return prev
}

func nextBoundary(s string, c int) int {
	bs := boundaries(s)
	for _, b := range bs {
		if b > c {
			return b
		}
	}
	return bs[len(bs)-1]
}
