package document

import (
	"slices"
	"sort"

	"github.com/MrWong99/inkmemory/pkg/textnorm"
)

// placement is where one visible comment currently sits in the text.
type placement struct {
	comment    Comment
	span       textnorm.Span
	found      bool
	overlapped bool
}

// placeAnchors locates every visible comment in the order the comments were
// applied. A comment whose span collides with an earlier placed span is
// marked overlapped and does not reserve its own span.
func (d *Document) placeAnchors() []placement {
	text := d.Text()
	visible := make([]Comment, 0, len(d.Comments))
	for _, c := range d.Comments {
		if c.Visible() {
			visible = append(visible, c)
		}
	}
	slices.SortStableFunc(visible, func(a, b Comment) int {
		return a.AppliedAt.Compare(*b.AppliedAt)
	})

	out := make([]placement, 0, len(visible))
	var taken []textnorm.Span
	for _, c := range visible {
		p := placement{comment: c}
		p.span, p.found = textnorm.Locate(text, c.Phrase)
		if p.found {
			if collides(taken, p.span) {
				p.overlapped = true
			} else {
				taken = append(taken, p.span)
			}
		}
		out = append(out, p)
	}
	return out
}

func takenSpans(placed []placement) []textnorm.Span {
	var out []textnorm.Span
	for _, p := range placed {
		if p.found && !p.overlapped {
			out = append(out, p.span)
		}
	}
	return out
}

func collides(taken []textnorm.Span, s textnorm.Span) bool {
	for _, t := range taken {
		if t.Overlaps(s) {
			return true
		}
	}
	return false
}

// refreshAnchors recomputes NotFoundPhrases and OverlappedPhrases from the
// current text. Phrases of visible comments are judged by placement. Other
// phrases already in either set (rejected candidates) stay only while the
// condition that put them there still holds, so an undo can bring a phrase
// back.
func (d *Document) refreshAnchors() {
	text := d.Text()
	placed := d.placeAnchors()
	taken := takenSpans(placed)

	own := make(map[string]bool, len(placed))
	notFound := newPhraseSet()
	overlapped := newPhraseSet()
	for _, p := range placed {
		own[textnorm.Normalize(p.comment.Phrase)] = true
		switch {
		case !p.found:
			notFound.add(p.comment.Phrase)
		case p.overlapped:
			overlapped.add(p.comment.Phrase)
		}
	}
	for _, phrase := range d.NotFoundPhrases {
		if own[textnorm.Normalize(phrase)] {
			continue
		}
		if !textnorm.Contains(text, phrase) {
			notFound.add(phrase)
		}
	}
	for _, phrase := range d.OverlappedPhrases {
		if own[textnorm.Normalize(phrase)] {
			continue
		}
		if span, ok := textnorm.Locate(text, phrase); ok && collides(taken, span) {
			overlapped.add(phrase)
		}
	}
	d.NotFoundPhrases = notFound.sorted(d.NotFoundPhrases)
	d.OverlappedPhrases = overlapped.sorted(d.OverlappedPhrases)
}

// VisibleComments returns the applied, non-killed comments ordered by where
// their anchor starts in the text. Comments whose phrase is currently not
// found sort last, in application order.
func (d *Document) VisibleComments() []Comment {
	placed := d.placeAnchors()
	found := make([]placement, 0, len(placed))
	var lost []Comment
	for _, p := range placed {
		if p.found {
			found = append(found, p)
		} else {
			lost = append(lost, p.comment.clone())
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].span.Start < found[j].span.Start })
	out := make([]Comment, 0, len(placed))
	for _, p := range found {
		out = append(out, p.comment.clone())
	}
	return append(out, lost...)
}

// AnchorSpan returns the current location of a visible comment in the
// concatenated text.
func (d *Document) AnchorSpan(commentID string) (textnorm.Span, bool) {
	for _, p := range d.placeAnchors() {
		if p.comment.ID == commentID {
			return p.span, p.found
		}
	}
	return textnorm.Span{}, false
}

// phraseSet deduplicates phrases under normalisation, keeping the first
// spelling seen.
type phraseSet struct {
	seen map[string]bool
	list []string
}

func newPhraseSet() *phraseSet {
	return &phraseSet{seen: make(map[string]bool)}
}

func (s *phraseSet) add(phrase string) bool {
	key := textnorm.Normalize(phrase)
	if key == "" || s.seen[key] {
		return false
	}
	s.seen[key] = true
	s.list = append(s.list, phrase)
	return true
}

// sorted returns the set as a sorted slice. When the set is empty it returns
// prev truncated to zero length, so a nil field stays nil.
func (s *phraseSet) sorted(prev []string) []string {
	if len(s.list) == 0 {
		if prev == nil {
			return nil
		}
		return prev[:0]
	}
	out := slices.Clone(s.list)
	slices.Sort(out)
	return out
}
