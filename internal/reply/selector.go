package reply

import (
	"strings"
)

const (
	DefaultAudioBaseURL = "https://static.weii.dev/audio/pingu"

	clipNootNoot = "noot_noot.mp3"
	clipAmazed   = "amazed.mp3"
	clipAngry    = "sms.mp3"

	quickReplyPrompt = "想讓 Pingu 怎麼叫 ?"
)

var quickReplyOptions = []string{"叫", "驚訝", "生氣"}

// Action is the reply chosen for an inbound message. It is one of NoAction,
// TextReply, AudioReply or QuickReply.
type Action interface {
	isAction()
}

type NoAction struct{}

type TextReply struct {
	Text string
}

type AudioReply struct {
	ContentURL string
	DurationMs int
}

type QuickReply struct {
	Prompt  string
	Options []string
}

func (NoAction) isAction()   {}
func (TextReply) isAction()  {}
func (AudioReply) isAction() {}
func (QuickReply) isAction() {}

type rule struct {
	keywords []string
	action   Action
}

// Selector maps message text to a reply by ordered keyword containment.
// The first rule with a matching keyword wins.
type Selector struct {
	rules []rule
}

// NewSelector builds the keyword table with audio clips served from audioBaseURL.
func NewSelector(audioBaseURL string) *Selector {
	base := strings.TrimRight(strings.TrimSpace(audioBaseURL), "/")
	if base == "" {
		base = DefaultAudioBaseURL
	}
	return &Selector{rules: []rule{
		{
			keywords: []string{"pingu"},
			action:   QuickReply{Prompt: quickReplyPrompt, Options: quickReplyOptions},
		},
		{
			keywords: []string{"叫", "noot", "noot noot"},
			action:   AudioReply{ContentURL: base + "/" + clipNootNoot, DurationMs: 1000},
		},
		{
			keywords: []string{"驚訝", "驚"},
			action:   AudioReply{ContentURL: base + "/" + clipAmazed, DurationMs: 1000},
		},
		{
			keywords: []string{"生氣", "氣"},
			action:   AudioReply{ContentURL: base + "/" + clipAngry, DurationMs: 3000},
		},
	}}
}

// Select returns the action for text, or NoAction when no rule matches.
func (s *Selector) Select(text string) Action {
	normalized := normalize(text)
	if normalized == "" {
		return NoAction{}
	}
	for _, r := range s.rules {
		for _, keyword := range r.keywords {
			if strings.Contains(normalized, keyword) {
				return r.action
			}
		}
	}
	return NoAction{}
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// decision is the run-log form of an Action.
type decision struct {
	Kind       string   `json:"kind"`
	Text       string   `json:"text,omitempty"`
	ContentURL string   `json:"contentUrl,omitempty"`
	DurationMs int      `json:"durationMs,omitempty"`
	Prompt     string   `json:"prompt,omitempty"`
	Options    []string `json:"options,omitempty"`
}

const (
	kindNone       = "none"
	kindText       = "text"
	kindAudio      = "audio"
	kindQuickReply = "quick_reply"
)

func toDecision(a Action) decision {
	switch a := a.(type) {
	case TextReply:
		return decision{Kind: kindText, Text: a.Text}
	case AudioReply:
		return decision{Kind: kindAudio, ContentURL: a.ContentURL, DurationMs: a.DurationMs}
	case QuickReply:
		return decision{Kind: kindQuickReply, Prompt: a.Prompt, Options: append([]string(nil), a.Options...)}
	default:
		return decision{Kind: kindNone}
	}
}

func (d decision) action() Action {
	switch d.Kind {
	case kindText:
		return TextReply{Text: d.Text}
	case kindAudio:
		return AudioReply{ContentURL: d.ContentURL, DurationMs: d.DurationMs}
	case kindQuickReply:
		return QuickReply{Prompt: d.Prompt, Options: d.Options}
	default:
		return NoAction{}
	}
}
