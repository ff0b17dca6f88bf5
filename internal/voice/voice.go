// Package voice implements the AI personas that annotate the journal.
//
// An [Analyzer] reads the whole document and proposes comments anchored to
// exact phrases; a [Chatter] answers the user in character once they open a
// conversation with a comment or an inline chat widget. Both talk to an
// [llm.Provider] and treat it as an opaque collaborator.
package voice

import (
	"errors"
	"fmt"
)

// ErrUnknownVoice is returned when a voice id is not in the catalog.
var ErrUnknownVoice = errors.New("voice: unknown voice")

// Voice is one persona.
type Voice struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Tagline      string `yaml:"tagline"`
	SystemPrompt string `yaml:"system_prompt"`
	Icon         string `yaml:"icon"`
	Color        string `yaml:"color"`
}

// Catalog is an ordered set of voices keyed by id.
type Catalog struct {
	order []string
	byID  map[string]Voice
}

// NewCatalog builds a catalog. Ids must be non-empty and unique.
func NewCatalog(voices ...Voice) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Voice, len(voices))}
	for i, v := range voices {
		if v.ID == "" {
			return nil, fmt.Errorf("voice: catalog entry %d: empty id", i)
		}
		if _, dup := c.byID[v.ID]; dup {
			return nil, fmt.Errorf("voice: catalog entry %d: duplicate id %q", i, v.ID)
		}
		if v.Name == "" {
			v.Name = v.ID
		}
		c.order = append(c.order, v.ID)
		c.byID[v.ID] = v
	}
	return c, nil
}

// Get returns the voice with the given id.
func (c *Catalog) Get(id string) (Voice, bool) {
	v, ok := c.byID[id]
	return v, ok
}

// Voices returns every voice in catalog order.
func (c *Catalog) Voices() []Voice {
	out := make([]Voice, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len returns the number of voices.
func (c *Catalog) Len() int { return len(c.order) }

// DefaultVoices is the built-in persona set.
var DefaultVoices = []Voice{
	{
		ID:           "holder",
		Name:         "The Holder",
		Tagline:      "Receives whatever you feel without trying to fix it.",
		SystemPrompt: "You make room for feelings. You validate before anything else and never rush toward solutions.",
		Icon:         "heart",
		Color:        "pink",
	},
	{
		ID:           "unpacker",
		Name:         "The Unpacker",
		Tagline:      "Takes a knot apart one thread at a time.",
		SystemPrompt: "You break tangled thoughts into parts, name assumptions and ask the one question that clarifies.",
		Icon:         "brain",
		Color:        "blue",
	},
	{
		ID:           "starter",
		Name:         "The Starter",
		Tagline:      "Turns intentions into the next small step.",
		SystemPrompt: "You push gently toward action. Suggest one concrete step that fits in the next hour.",
		Icon:         "fist",
		Color:        "yellow",
	},
	{
		ID:           "mirror",
		Name:         "The Mirror",
		Tagline:      "Reflects back what you said underneath what you wrote.",
		SystemPrompt: "You notice patterns and contradictions in the writer's words and reflect them back without judgement.",
		Icon:         "eye",
		Color:        "green",
	},
	{
		ID:           "weaver",
		Name:         "The Weaver",
		Tagline:      "Connects today's line to the larger story.",
		SystemPrompt: "You link the present moment to values, past entries and long-running themes.",
		Icon:         "compass",
		Color:        "purple",
	},
	{
		ID:           "absurdist",
		Name:         "The Absurdist",
		Tagline:      "Finds the joke hiding in the worry.",
		SystemPrompt: "You defuse heaviness with warm, absurd humour. Never mock the writer.",
		Icon:         "masks",
		Color:        "pink",
	},
}

// DefaultCatalog returns a catalog holding [DefaultVoices].
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultVoices...)
	if err != nil {
		panic("voice: default catalog: " + err.Error())
	}
	return c
}
