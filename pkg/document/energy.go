package document

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/inkmemory/pkg/textnorm"
)

// DefaultCommentCost is the energy one applied comment consumes.
const DefaultCommentCost = 50

// EnergyEntry is one point of the append-only energy ledger.
type EnergyEntry struct {
	Weight float64 `json:"weight"`
	Energy float64 `json:"energy"`
}

func (d *Document) lastEntry() EnergyEntry {
	if n := len(d.EnergyLedger); n > 0 {
		return d.EnergyLedger[n-1]
	}
	return EnergyEntry{}
}

// CurrentEnergy returns the energy field of the last ledger entry, or 0.
func (d *Document) CurrentEnergy() float64 { return d.lastEntry().Energy }

// CurrentWeight returns the weight field of the last ledger entry, or 0.
func (d *Document) CurrentWeight() float64 { return d.lastEntry().Weight }

// AppliedCount returns the number of applied, non-killed comments.
func (d *Document) AppliedCount() int {
	n := 0
	for _, c := range d.Comments {
		if c.Visible() {
			n++
		}
	}
	return n
}

// UnusedEnergy is the balance left after paying cost for every applied,
// non-killed comment. It is derived on every call and never stored.
func (d *Document) UnusedEnergy(cost float64) float64 {
	return d.CurrentEnergy() - float64(d.AppliedCount())*cost
}

// AccrueEnergy appends a ledger entry that adds the deltas to the last one.
func (d *Document) AccrueEnergy(weightDelta, energyDelta float64) {
	last := d.lastEntry()
	d.EnergyLedger = append(d.EnergyLedger, EnergyEntry{
		Weight: last.Weight + weightDelta,
		Energy: last.Energy + energyDelta,
	})
}

// ApplyResult reports what [Document.ApplyComments] did with each candidate.
type ApplyResult struct {
	// Applied and Staged hold ids of comments that were added.
	Applied []string
	Staged  []string
	// Duplicates counts candidates matching an existing un-killed comment.
	Duplicates int
	// Overlapped and NotFound hold the phrases of rejected candidates.
	Overlapped []string
	NotFound   []string
}

// New returns the number of candidates that were genuinely new.
func (r ApplyResult) New() int { return len(r.Applied) + len(r.Staged) }

// ApplyComments runs one batch of analysis candidates through the energy
// economy.
//
// A candidate with the same phrase and voice as an existing un-killed
// comment is a duplicate: it is charged cost and credited refund. Candidates
// whose phrase is absent from the text go to NotFoundPhrases; those whose
// anchor collides with an applied comment go to OverlappedPhrases. Every
// other candidate is added, applied while the unused energy covers cost and
// staged as pending otherwise.
//
// Exactly one ledger entry is appended per call, carrying the weight over.
func (d *Document) ApplyComments(candidates []Comment, cost, refund float64, now time.Time) ApplyResult {
	var res ApplyResult
	text := d.Text()
	taken := takenSpans(d.placeAnchors())

	for _, cand := range candidates {
		if d.isKnown(cand) {
			res.Duplicates++
			continue
		}
		span, ok := textnorm.Locate(text, cand.Phrase)
		if !ok {
			if addPhrase(&d.NotFoundPhrases, cand.Phrase) {
				res.NotFound = append(res.NotFound, cand.Phrase)
			}
			continue
		}
		if collides(taken, span) {
			if addPhrase(&d.OverlappedPhrases, cand.Phrase) {
				res.Overlapped = append(res.Overlapped, cand.Phrase)
			}
			continue
		}

		c := cand.clone()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.AppliedAt = nil
		c.Feedback = FeedbackNone
		c.ChatHistory = nil
		if d.UnusedEnergy(cost) >= cost {
			c.AppliedAt = touch(now)
			taken = append(taken, span)
			res.Applied = append(res.Applied, c.ID)
		} else {
			res.Staged = append(res.Staged, c.ID)
		}
		d.Comments = append(d.Comments, c)
	}

	dups := float64(res.Duplicates)
	last := d.lastEntry()
	d.EnergyLedger = append(d.EnergyLedger, EnergyEntry{
		Weight: last.Weight,
		Energy: last.Energy + refund*dups - cost*dups,
	})
	d.refreshAnchors()
	return res
}

// ApplyPending surfaces a staged comment. It reports false when the comment
// is missing, already applied or killed, when the unused energy does not
// cover cost, or when its phrase cannot be placed without overlapping.
func (d *Document) ApplyPending(commentID string, cost float64, now time.Time) bool {
	i := d.commentIndex(commentID)
	if i < 0 {
		return false
	}
	c := d.Comments[i]
	if c.Applied() || c.Killed() || d.UnusedEnergy(cost) < cost {
		return false
	}
	span, ok := textnorm.Locate(d.Text(), c.Phrase)
	if !ok || collides(takenSpans(d.placeAnchors()), span) {
		return false
	}
	d.Comments[i].AppliedAt = touch(now)
	d.refreshAnchors()
	return true
}

// PendingComments returns the staged comments that have not been killed.
func (d *Document) PendingComments() []Comment {
	var out []Comment
	for _, c := range d.Comments {
		if !c.Applied() && !c.Killed() {
			out = append(out, c.clone())
		}
	}
	return out
}

func (d *Document) isKnown(cand Comment) bool {
	for _, c := range d.Comments {
		if !c.Killed() && c.SameAnchor(cand) {
			return true
		}
	}
	return false
}

// addPhrase inserts phrase into a sorted phrase list unless an equal phrase
// under normalisation is present. It reports whether the list changed.
func addPhrase(list *[]string, phrase string) bool {
	s := newPhraseSet()
	for _, p := range *list {
		s.add(p)
	}
	if !s.add(phrase) {
		return false
	}
	*list = s.sorted(*list)
	return true
}
