package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/kobzarvs/qfield/internal/config"
	"github.com/kobzarvs/qfield/internal/fragment"
	"github.com/kobzarvs/qfield/internal/logger"
	"github.com/kobzarvs/qfield/internal/segment"
	"github.com/kobzarvs/qfield/internal/session"
)

const autosaveInterval = 2 * time.Second

// App is the top-level runtime for qfield.
type App struct {
	args   []string
	stdout io.Writer
}

func New(args []string) *App {
	return &App{args: args, stdout: os.Stdout}
}

func (a *App) Run() error {
	if len(a.args) > 0 && a.args[0] == "render" {
		return renderCommand(a.args[1:], a.stdout)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(os.Getenv("QFIELD_DEBUG") != ""); err != nil {
		return err
	}
	defer logger.Close()

	path := cfg.Editor.Document
	if len(a.args) > 0 {
		path = a.args[0]
	}
	doc, err := session.NewManager(path, autosaveInterval)
	if err != nil {
		return err
	}
	defer func() {
		if err := doc.Stop(); err != nil {
			logger.Error("document save on exit failed", "path", doc.Path(), "err", err)
		}
	}()
	logger.Info("document opened", "path", doc.Path())

	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()

	seg := segment.New()
	defer seg.Close()

	surf := NewSurface(cfg, buildFields(cfg, doc, seg, loopScheduler{post: s.PostEvent}), doc)
	defer surf.Close()

	err = doc.Watch(func(changed map[string]string) {
		_ = s.PostEvent(tcell.NewEventInterrupt(func() { surf.Apply(changed) }))
	})
	if err != nil {
		logger.Warn("document watch unavailable", "path", doc.Path(), "err", err)
	}

	for {
		surf.Draw(s)
		switch ev := s.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventKey:
			if surf.HandleKey(ev) {
				return nil
			}
		case *tcell.EventInterrupt:
			if fn, ok := ev.Data().(func()); ok {
				fn()
			}
		}
	}
}

var errRenderUsage = errors.New("usage: qfield render <text> [left|right|center|justify|decimal] [percent]")

// renderCommand prints the markup of one line.
func renderCommand(args []string, w io.Writer) error {
	if len(args) == 0 || len(args) > 3 {
		return errRenderUsage
	}
	align := fragment.AlignLeft
	if len(args) > 1 {
		a, ok := parseAlign(args[1])
		if !ok {
			return fmt.Errorf("unknown alignment %q: %w", args[1], errRenderUsage)
		}
		align = a
	}
	percent := 50.0
	if len(args) > 2 {
		p, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("bad percent %q: %w", args[2], errRenderUsage)
		}
		percent = p
	}

	seg := segment.New()
	defer seg.Close()
	out, err := fragment.Render(fragment.Build(align, percent, -1, seg.Split(args[0])))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
