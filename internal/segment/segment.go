// Package segment splits a line of text into the ordered segments consumed by
// the fragment builder. Tokens come from a tree-sitter parse so numbers,
// identifiers and strings keep their own spans.
package segment

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/kobzarvs/qfield/internal/fragment"
	"github.com/kobzarvs/qfield/internal/logger"
)

// ClassPlain is the class of whitespace and unparsed runs.
const ClassPlain = "plain"

// Segmenter tokenizes lines. A Segmenter is safe for concurrent use.
type Segmenter struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

func New() *Segmenter {
	p := sitter.NewParser()
	p.SetLanguage(javascript.GetLanguage())
	return &Segmenter{parser: p}
}

// Close releases the parser.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parser != nil {
		s.parser.Close()
		s.parser = nil
	}
}

type token struct {
	start, end int // bytes
	class      string
}

// Split returns the segments of line in left-to-right order. Their text
// concatenates back to line. The first number with a fraction is split
// around its decimal point, which is tagged fragment.KindDecimalPoint.
func (s *Segmenter) Split(line string) []fragment.TextSegment {
	if line == "" {
		return nil
	}
	toks := s.tokens(line)
	if toks == nil {
		return []fragment.TextSegment{whole(line)}
	}

	var segs []fragment.TextSegment
	pos := 0
	decimalSeen := false
	emit := func(kind fragment.Kind, class string, start, end int) {
		if end <= start {
			return
		}
		text := line[start:end]
		segs = append(segs, fragment.TextSegment{
			Kind:  kind,
			Start: runeIndex(line, start),
			End:   runeIndex(line, end),
			Node:  fragment.Span(class, text),
		})
	}
	for _, t := range toks {
		if t.start > pos {
			emit(fragment.KindText, ClassPlain, pos, t.start)
		}
		dot := -1
		if t.class == "number" && !decimalSeen {
			dot = strings.IndexByte(line[t.start:t.end], '.')
		}
		if dot >= 0 {
			decimalSeen = true
			emit(fragment.KindText, t.class, t.start, t.start+dot)
			emit(fragment.KindDecimalPoint, t.class, t.start+dot, t.start+dot+1)
			emit(fragment.KindText, t.class, t.start+dot+1, t.end)
		} else {
			emit(fragment.KindText, t.class, t.start, t.end)
		}
		pos = t.end
	}
	if pos < len(line) {
		emit(fragment.KindText, ClassPlain, pos, len(line))
	}
	return segs
}

func (s *Segmenter) tokens(line string) []token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parser == nil {
		return nil
	}
	tree, err := s.parser.ParseCtx(context.Background(), nil, []byte(line))
	if err != nil || tree == nil {
		logger.Warn("segment parse failed", "err", err)
		return nil
	}
	defer tree.Close()

	var toks []token
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		count := int(n.ChildCount())
		if count == 0 {
			start, end := int(n.StartByte()), int(n.EndByte())
			if end > start && end <= len(line) && start >= lastEnd(toks) {
				toks = append(toks, token{start: start, end: end, class: classOf(n)})
			}
			return
		}
		for i := 0; i < count; i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())
	return toks
}

func classOf(n *sitter.Node) string {
	if !n.IsNamed() {
		return "punctuation"
	}
	switch t := n.Type(); t {
	case "string_fragment", "escape_sequence":
		return "string"
	default:
		return t
	}
}

func lastEnd(toks []token) int {
	if len(toks) == 0 {
		return 0
	}
	return toks[len(toks)-1].end
}

func whole(line string) fragment.TextSegment {
	return fragment.TextSegment{
		Kind:  fragment.KindText,
		Start: 0,
		End:   utf8.RuneCountInString(line),
		Node:  fragment.Span(ClassPlain, line),
	}
}

func runeIndex(s string, byteOff int) int {
	return utf8.RuneCountInString(s[:byteOff])
}
