package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/companion"
)

var toneGuides = map[string]string{
	"professional": "Formal and business-like.",
	"casual":       "Relaxed and friendly.",
	"empathetic":   "Understanding and compassionate.",
	"enthusiastic": "Energetic and positive.",
	"analytical":   "Logical and detail-oriented.",
}

var traitGuides = map[string]string{
	"friendly":      "warm and approachable",
	"formal":        "professional and polite",
	"humorous":      "witty and playful",
	"empathetic":    "understanding and caring",
	"intellectual":  "knowledgeable and analytical",
	"creative":      "imaginative and artistic",
	"motivational":  "inspiring and encouraging",
	"philosophical": "deep and contemplative",
}

// SystemPrompt describes the companion to the model.
func SystemPrompt(p companion.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI companion chatting with a user.", p.Name)
	if len(p.Personality) > 0 {
		traits := make([]string, 0, len(p.Personality))
		for _, t := range p.Personality {
			if g, ok := traitGuides[t]; ok {
				traits = append(traits, g)
			}
		}
		if len(traits) > 0 {
			fmt.Fprintf(&b, " Your personality: %s.", strings.Join(traits, "; "))
		}
	}
	if g, ok := toneGuides[p.Tone]; ok {
		fmt.Fprintf(&b, " Tone of voice: %s", g)
	}
	fmt.Fprintf(&b, " Keep every reply under %d characters.", chat.MaxBodyLen)
	return b.String()
}

// CompanionResponder answers as the session's companion through a Provider.
type CompanionResponder struct {
	provider Provider
	registry companion.Registry
	window   int
}

func NewCompanionResponder(provider Provider, registry companion.Registry, window int) *CompanionResponder {
	if window <= 0 || window > 100 {
		window = 20
	}
	return &CompanionResponder{provider: provider, registry: registry, window: window}
}

func (r *CompanionResponder) Reply(ctx context.Context, req chat.ReplyRequest) (string, error) {
	profile, err := r.registry.Lookup(ctx, req.UserID, req.CompanionID)
	if err != nil {
		return "", err
	}

	history := req.History
	if len(history) > r.window {
		history = history[len(history)-r.window:]
	}

	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, Message{Role: "system", Content: SystemPrompt(profile)})
	for _, m := range history {
		role := "user"
		if m.Author == chat.AuthorCompanion {
			role = "assistant"
		}
		msgs = append(msgs, Message{Role: role, Content: m.Body})
	}
	return r.provider.Chat(ctx, msgs)
}
