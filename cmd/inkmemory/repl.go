package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrWong99/inkmemory/internal/app"
	"github.com/MrWong99/inkmemory/internal/session"
	"github.com/MrWong99/inkmemory/pkg/document"
)

// voiceTimeout bounds one analysis or chat round trip.
const voiceTimeout = 90 * time.Second

const helpText = `Lines without a leading ':' are appended to the entry.

  :show                    print the entry with its comments
  :analyze                 ask the voices for comments
  :comments                list comments, pending ones marked with '+'
  :apply <comment>         surface a pending comment
  :star <comment>          star a comment
  :kill <comment>          hide a comment
  :chat <comment> <text>   reply to a comment
  :widget <voice>          start an inline chat at the end of the entry
  :say <widget> <text>     talk in an inline chat
  :voices                  list the voices
  :mood [name]             select a mood, or clear it
  :energy                  show unused energy and runes written
  :reload                  re-read the config file now
  :save                    save now
  :new                     start a fresh entry
  :list                    list recent entries (account mode)
  :switch <entry>          open another entry (account mode)
  :quit                    save and exit

Ids may be abbreviated to any unique prefix.`

// repl drives an [app.App] from line-oriented input.
type repl struct {
	app *app.App
	in  io.Reader
	out io.Writer

	// reload re-reads the config file; nil when hot reload is off.
	reload func() (bool, error)
}

func newREPL(a *app.App, in io.Reader, out io.Writer) *repl {
	return &repl{app: a, in: in, out: out}
}

var errQuit = errors.New("quit")

// Run reads lines until EOF, :quit or ctx cancellation.
func (r *repl) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	fmt.Fprintln(r.out, "Write away. :help lists commands.")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := r.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		}
	}
}

// exec runs one input line.
func (r *repl) exec(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, ":") {
		return r.appendText(line)
	}
	name, rest, _ := strings.Cut(strings.TrimSpace(line[1:]), " ")
	rest = strings.TrimSpace(rest)
	eng := r.app.Engine()

	switch name {
	case "help", "h", "?":
		fmt.Fprintln(r.out, helpText)
	case "quit", "q":
		return errQuit
	case "show":
		r.show()
	case "analyze", "a":
		return r.analyze(ctx)
	case "comments":
		r.listComments()
	case "apply":
		id, err := r.commentID(rest)
		if err != nil {
			return err
		}
		if !r.app.ApplyPending(ctx, id) {
			return errors.New("not enough energy, or the comment is not pending")
		}
		fmt.Fprintln(r.out, "applied.")
	case "star", "kill":
		id, err := r.commentID(rest)
		if err != nil {
			return err
		}
		return r.app.SetFeedback(ctx, id, document.Feedback(name))
	case "chat":
		ref, msg, _ := strings.Cut(rest, " ")
		id, err := r.commentID(ref)
		if err != nil {
			return err
		}
		return r.reply(ctx, func(ctx context.Context) (string, error) {
			return r.app.ChatWithComment(ctx, id, strings.TrimSpace(msg))
		})
	case "widget":
		cellID, cursor := r.endOfText()
		id, err := r.app.InsertChat(cellID, cursor, rest)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "chat %s opened with %s.\n", short(id), rest)
	case "say":
		ref, msg, _ := strings.Cut(rest, " ")
		id, err := r.widgetID(ref)
		if err != nil {
			return err
		}
		return r.reply(ctx, func(ctx context.Context) (string, error) {
			return r.app.ChatInWidget(ctx, id, strings.TrimSpace(msg))
		})
	case "voices":
		tally, err := r.app.VoiceTally()
		if err != nil {
			return err
		}
		for _, v := range r.app.Catalog().Voices() {
			fmt.Fprintf(r.out, "  %-10s %s: %s", v.ID, v.Name, v.Tagline)
			if t, ok := tally[v.ID]; ok {
				fmt.Fprintf(r.out, " (%d starred, %d killed)", t.Stars, t.Kills)
			}
			fmt.Fprintln(r.out)
		}
	case "mood":
		r.app.Sessions().SetMood(ctx, rest)
	case "energy":
		fmt.Fprintf(r.out, "unused energy: %.0f (weight %.0f)\n", eng.UnusedEnergy(), eng.Snapshot().CurrentWeight())
	case "reload":
		if r.reload == nil {
			return errors.New("config hot reload is off")
		}
		changed, err := r.reload()
		switch {
		case err != nil:
			return err
		case changed:
			fmt.Fprintln(r.out, "config reloaded.")
		default:
			fmt.Fprintln(r.out, "config unchanged.")
		}
	case "save":
		if err := r.app.Sessions().SaveNow(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "saved.")
	case "new":
		return r.app.Sessions().StartFresh(ctx)
	case "list":
		return r.listSessions(ctx)
	case "switch":
		id, err := r.sessionID(ctx, rest)
		if err != nil {
			return err
		}
		if err := r.app.Sessions().SwitchSession(ctx, id); err != nil {
			return err
		}
		r.show()
	default:
		return fmt.Errorf("unknown command %q, try :help", name)
	}
	return nil
}

// appendText adds line to the last text cell, or to a new paragraph after a
// trailing widget.
func (r *repl) appendText(line string) error {
	eng := r.app.Engine()
	snap := eng.Snapshot()
	if len(snap.Cells) == 0 {
		return errors.New("entry has no cells")
	}
	if tc, ok := snap.Cells[len(snap.Cells)-1].(document.TextCell); ok {
		content := line
		if tc.Content != "" {
			content = tc.Content + "\n" + line
		}
		eng.UpdateTextCell(tc.ID, content)
		return nil
	}
	// The editor keeps a text cell after every widget, so this only happens
	// with hand-edited documents.
	return errors.New("entry does not end in text")
}

// endOfText returns the last text cell and its length in runes.
func (r *repl) endOfText() (string, int) {
	snap := r.app.Engine().Snapshot()
	for i := len(snap.Cells) - 1; i >= 0; i-- {
		if tc, ok := snap.Cells[i].(document.TextCell); ok {
			return tc.ID, len([]rune(tc.Content))
		}
	}
	return "", 0
}

func (r *repl) analyze(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, voiceTimeout)
	defer cancel()
	res, err := r.app.Analyze(ctx)
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Fprintln(r.out, "nothing new to comment on yet.")
		return nil
	}
	snap := r.app.Engine().Snapshot()
	for _, id := range res.Applied {
		if c, ok := snap.Comment(id); ok {
			r.printComment(c, "")
		}
	}
	if n := len(res.Staged); n > 0 {
		fmt.Fprintf(r.out, "%d comment(s) waiting for energy, see :comments.\n", n)
	}
	return nil
}

func (r *repl) reply(ctx context.Context, fn func(context.Context) (string, error)) error {
	ctx, cancel := context.WithTimeout(ctx, voiceTimeout)
	defer cancel()
	reply, err := fn(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "  > %s\n", reply)
	return nil
}

func (r *repl) show() {
	snap := r.app.Engine().Snapshot()
	for _, c := range snap.Cells {
		switch c := c.(type) {
		case document.TextCell:
			fmt.Fprintln(r.out, c.Content)
		case document.WidgetCell:
			fmt.Fprintf(r.out, "  [chat %s with %s, %d messages]\n", short(c.ID), c.Data.VoiceID, len(c.Data.ConversationHistory))
		}
	}
	for _, c := range snap.VisibleComments() {
		r.printComment(c, "")
	}
}

func (r *repl) listComments() {
	snap := r.app.Engine().Snapshot()
	for _, c := range snap.VisibleComments() {
		r.printComment(c, " ")
	}
	for _, c := range snap.PendingComments() {
		r.printComment(c, "+")
	}
}

func (r *repl) printComment(c document.Comment, mark string) {
	if mark != "" {
		mark += " "
	}
	fmt.Fprintf(r.out, "%s%s %-10s %q: %s\n", mark, short(c.ID), c.VoiceID, c.Phrase, c.Text)
}

func (r *repl) listSessions(ctx context.Context) error {
	metas, err := r.app.RecentSessions(ctx, 20)
	if errors.Is(err, session.ErrGuestMode) {
		return errors.New("entries are only listed in account mode")
	}
	if err != nil {
		return err
	}
	current := r.app.Sessions().CurrentEntryID()
	for _, m := range metas {
		mark := " "
		if m.ID == current {
			mark = "*"
		}
		fmt.Fprintf(r.out, "%s %s  %s  %s\n", mark, short(m.ID), m.UpdatedAt.Local().Format(time.DateTime), m.Name)
	}
	return nil
}

// ── Id resolution ─────────────────────────────────────────────────────────────

func (r *repl) commentID(prefix string) (string, error) {
	snap := r.app.Engine().Snapshot()
	ids := make([]string, 0, len(snap.Comments))
	for _, c := range snap.Comments {
		ids = append(ids, c.ID)
	}
	return resolve("comment", prefix, ids)
}

func (r *repl) widgetID(prefix string) (string, error) {
	snap := r.app.Engine().Snapshot()
	var ids []string
	for _, c := range snap.Cells {
		if w, ok := c.(document.WidgetCell); ok {
			ids = append(ids, w.ID)
		}
	}
	return resolve("chat", prefix, ids)
}

func (r *repl) sessionID(ctx context.Context, prefix string) (string, error) {
	metas, err := r.app.RecentSessions(ctx, 0)
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(metas))
	for _, m := range metas {
		ids = append(ids, m.ID)
	}
	return resolve("entry", prefix, ids)
}

// resolve finds the single id in ids that starts with prefix.
func resolve(kind, prefix string, ids []string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("missing %s id", kind)
	}
	var match string
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("%s id %q is ambiguous", kind, prefix)
		}
		match = id
	}
	if match == "" {
		return "", fmt.Errorf("no %s with id %q", kind, prefix)
	}
	return match, nil
}

// short abbreviates a uuid for display.
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
