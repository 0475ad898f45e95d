package app

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/kobzarvs/qfield/internal/config"
	"github.com/kobzarvs/qfield/internal/editor"
	"github.com/kobzarvs/qfield/internal/fragment"
	"github.com/kobzarvs/qfield/internal/logger"
	"github.com/kobzarvs/qfield/internal/segment"
	"github.com/kobzarvs/qfield/internal/session"
	"github.com/kobzarvs/qfield/internal/store"
)

// Surface is the form: a column of fields, one of them focused, over the
// document that owns their values.
type Surface struct {
	fields      []*editor.Field
	focus       int
	keymap      map[string]string
	styles      editor.Styles
	statusStyle tcell.Style
	labelWidth  int
	doc         *session.Manager
	message     string
}

// buildFields creates one field per configured entry, seeded from doc and
// committing back into it.
func buildFields(cfg config.Config, doc *session.Manager, seg *segment.Segmenter, sched store.Scheduler) []*editor.Field {
	delay, auto := cfg.Editor.Debounce()
	opts := []store.Option{store.WithHistoryLimit(cfg.Editor.MaxHistory()), store.WithScheduler(sched)}
	if auto {
		opts = append(opts, store.WithDelay(delay))
	} else {
		opts = append(opts, store.WithoutAutoCommit())
	}

	fields := make([]*editor.Field, 0, len(cfg.Fields))
	for _, fc := range cfg.Fields {
		align, ok := parseAlign(fc.Align)
		if !ok {
			logger.Warn("unknown field alignment", "field", fc.Name, "align", fc.Align)
		}
		fields = append(fields, editor.NewField(editor.Options{
			Name:                fc.Name,
			Label:               fc.Label,
			Align:               align,
			DecimalAlignPercent: fc.DecimalAlignPercent,
			Initial:             doc.Get(fc.Name),
			Commit:              doc.Set,
			Segmenter:           seg,
			StoreOptions:        opts,
		}))
	}
	return fields
}

func parseAlign(s string) (fragment.Alignment, bool) {
	switch a := fragment.Alignment(s); a {
	case fragment.AlignLeft, fragment.AlignRight, fragment.AlignCenter, fragment.AlignJustify, fragment.AlignDecimal:
		return a, true
	case "":
		return fragment.AlignLeft, true
	}
	return fragment.AlignLeft, false
}

func NewSurface(cfg config.Config, fields []*editor.Field, doc *session.Manager) *Surface {
	th := cfg.Theme
	fg := parseColor(th.Foreground, tcell.ColorDefault)
	bg := parseColor(th.Background, tcell.ColorDefault)
	normal := tcell.StyleDefault.Foreground(fg).Background(bg)
	return &Surface{
		fields: fields,
		keymap: cfg.Keymap,
		styles: editor.Styles{
			Normal: normal,
			Label:  normal.Foreground(parseColor(th.LabelForeground, fg)),
			Focus: tcell.StyleDefault.
				Foreground(parseColor(th.FocusForeground, bg)).
				Background(parseColor(th.FocusBackground, fg)),
			Pending: normal.Foreground(parseColor(th.PendingForeground, fg)),
		},
		statusStyle: tcell.StyleDefault.
			Foreground(parseColor(th.StatuslineForeground, fg)).
			Background(parseColor(th.StatuslineBackground, bg)),
		labelWidth: max(cfg.Editor.LabelWidth, 1),
		doc:        doc,
	}
}

// Focused returns the focused field, nil for an empty form.
func (s *Surface) Focused() *editor.Field {
	if len(s.fields) == 0 {
		return nil
	}
	return s.fields[s.focus]
}

// Field returns the field called name.
func (s *Surface) Field(name string) *editor.Field {
	for _, f := range s.fields {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// HandleKey applies a key press and reports whether the program should quit.
func (s *Surface) HandleKey(ev *tcell.EventKey) bool {
	if action, ok := s.keymap[keyString(ev)]; ok {
		return s.run(action)
	}
	f := s.Focused()
	if f == nil || ev.Key() != tcell.KeyRune {
		return false
	}
	if ev.Modifiers()&(tcell.ModCtrl|tcell.ModAlt|tcell.ModMeta) != 0 {
		return false
	}
	s.message = ""
	f.Insert(string(ev.Rune()))
	return false
}

func (s *Surface) run(action string) bool {
	f := s.Focused()
	if f == nil {
		return action == "quit"
	}
	s.message = ""
	switch action {
	case "move_left":
		f.MoveLeft()
	case "move_right":
		f.MoveRight()
	case "line_start":
		f.Home()
	case "line_end":
		f.End()
	case "backspace":
		f.Backspace()
	case "delete_char":
		f.Delete()
	case "undo":
		f.Undo()
	case "redo":
		f.Redo()
	case "next_field":
		s.setFocus(s.focus + 1)
	case "prev_field":
		s.setFocus(s.focus - 1)
	case "commit":
		f.Commit()
		s.message = "committed " + f.Name()
	case "save":
		s.commitAll()
		if err := s.doc.ForceSave(); err != nil {
			logger.Error("document save failed", "path", s.doc.Path(), "err", err)
			s.message = "save failed: " + err.Error()
		} else {
			s.message = "saved " + s.doc.Path()
		}
	case "reload":
		changed, err := s.doc.Reload()
		if err != nil {
			logger.Warn("document reload failed", "path", s.doc.Path(), "err", err)
			s.message = "reload failed: " + err.Error()
			break
		}
		s.Apply(changed)
		s.message = fmt.Sprintf("reloaded %d field(s)", len(changed))
	case "quit":
		s.commitAll()
		return true
	default:
		logger.Warn("unknown action", "action", action)
	}
	return false
}

// setFocus moves focus, wrapping around, and commits the field being left.
func (s *Surface) setFocus(i int) {
	n := len(s.fields)
	next := ((i % n) + n) % n
	if next == s.focus {
		return
	}
	s.fields[s.focus].Commit()
	s.focus = next
	s.fields[next].End()
}

func (s *Surface) commitAll() {
	for _, f := range s.fields {
		if !f.Saved() {
			f.Commit()
		}
	}
}

// Apply resets fields to values changed by the document's owner.
func (s *Surface) Apply(changed map[string]string) {
	for name, v := range changed {
		if f := s.Field(name); f != nil {
			f.Reset(v)
		}
	}
}

// Draw renders the form with a status line on the last row.
func (s *Surface) Draw(scr tcell.Screen) {
	scr.SetStyle(s.styles.Normal)
	scr.Clear()
	w, h := scr.Size()
	if h == 0 {
		return
	}
	cursorX, cursorY := -1, -1
	for i, f := range s.fields {
		if i >= h-1 {
			break
		}
		x := f.Render(scr, i, s.labelWidth, s.styles, i == s.focus)
		if i == s.focus {
			cursorX, cursorY = x, i
		}
	}
	drawStatus(scr, h-1, w, s.statusText(), s.statusStyle)
	if cursorY >= 0 {
		scr.ShowCursor(cursorX, cursorY)
	} else {
		scr.HideCursor()
	}
	scr.Show()
}

func (s *Surface) statusText() string {
	f := s.Focused()
	if f == nil {
		return " no fields"
	}
	state := "saved"
	if !f.Saved() {
		state = "modified"
	}
	st := f.Store()
	text := fmt.Sprintf(" %s  %s  %d/%d", f.Name(), state, st.Cursor()+1, len(st.History()))
	if tok := f.CaretToken(); tok != "" {
		text += "  " + tok
	}
	if s.message != "" {
		text += "  " + s.message
	}
	return text
}

// Close releases the fields' timers.
func (s *Surface) Close() {
	for _, f := range s.fields {
		f.Close()
	}
}

func drawStatus(scr tcell.Screen, y, w int, text string, style tcell.Style) {
	x := 0
	for _, r := range text {
		rw := runewidth.RuneWidth(r)
		if rw == 0 {
			continue
		}
		if x+rw > w {
			break
		}
		scr.SetContent(x, y, r, nil, style)
		x += rw
	}
	for ; x < w; x++ {
		scr.SetContent(x, y, ' ', nil, style)
	}
}

// loopScheduler delivers timer callbacks on the event loop as interrupts, so
// stores are only ever touched from one goroutine.
type loopScheduler struct {
	post func(tcell.Event) error
}

func (l loopScheduler) AfterFunc(d time.Duration, f func()) store.Timer {
	return time.AfterFunc(d, func() {
		if err := l.post(tcell.NewEventInterrupt(f)); err != nil {
			logger.Debug("timer event dropped", "err", err)
		}
	})
}
