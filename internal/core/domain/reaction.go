package domain

import "time"

type ReactionChange int

const (
	ReactionAdded ReactionChange = iota
	ReactionReplaced
	ReactionRemoved
)

func (c ReactionChange) String() string {
	switch c {
	case ReactionAdded:
		return "added"
	case ReactionReplaced:
		return "replaced"
	case ReactionRemoved:
		return "removed"
	}
	return "unknown"
}

// ToggleReaction applies userID's emoji to reactions and returns the new
// list. Reacting again with the same emoji removes the reaction, a different
// emoji replaces it, otherwise it is appended. The input slice is not
// modified.
func ToggleReaction(reactions []Reaction, userID, emoji string, now time.Time) ([]Reaction, ReactionChange) {
	out := make([]Reaction, 0, len(reactions)+1)
	change := ReactionAdded
	for _, r := range reactions {
		if r.UserID != userID {
			out = append(out, r)
			continue
		}
		if r.Emoji == emoji {
			change = ReactionRemoved
			continue
		}
		change = ReactionReplaced
		out = append(out, Reaction{UserID: userID, Emoji: emoji, CreatedAt: now})
	}
	if change == ReactionAdded {
		out = append(out, Reaction{UserID: userID, Emoji: emoji, CreatedAt: now})
	}
	return out, change
}
