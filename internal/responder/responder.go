package responder

import (
	"fmt"
	"strings"
	"time"
)

// rule pairs an ordered substring predicate with its reply. The cascade is
// first-match-wins; order is part of observable behavior.
type rule struct {
	keywords []string
	reply    func(input string, now time.Time) string
}

// Keyword answers a fixed set of phrases with canned replies and echoes
// anything it does not recognize. Matching is case-insensitive substring.
type Keyword struct {
	rules []rule
	now   func() time.Time
}

// Option customizes a Keyword responder.
type Option func(*Keyword)

// WithClock overrides the clock used for time and date replies.
func WithClock(now func() time.Time) Option {
	return func(k *Keyword) {
		if now != nil {
			k.now = now
		}
	}
}

// NewKeyword builds the responder with its fixed cascade.
func NewKeyword(opts ...Option) *Keyword {
	k := &Keyword{now: time.Now}
	for _, opt := range opts {
		opt(k)
	}
	k.rules = []rule{
		{
			keywords: []string{"hello", "hi"},
			reply: func(_ string, _ time.Time) string {
				return "Hello there! How can I help you today?"
			},
		},
		{
			keywords: []string{"time"},
			reply: func(_ string, now time.Time) string {
				return fmt.Sprintf("It's currently %s.", now.Format("3:04 PM"))
			},
		},
		{
			keywords: []string{"date", "day"},
			reply: func(_ string, now time.Time) string {
				return fmt.Sprintf("Today is %s.", now.Format("Monday, January 2, 2006"))
			},
		},
		{
			keywords: []string{"weather"},
			reply: func(_ string, _ time.Time) string {
				return "I can't check live weather yet, but I hope it's nice where you are!"
			},
		},
		{
			keywords: []string{"your name", "who are you"},
			reply: func(_ string, _ time.Time) string {
				return "I'm your voice assistant. You can call me Voicebox."
			},
		},
		{
			keywords: []string{"help"},
			reply: func(_ string, _ time.Time) string {
				return "Try asking me about the time, the date, or the weather. You can also just say hello."
			},
		},
		{
			keywords: []string{"what can you do"},
			reply: func(_ string, _ time.Time) string {
				return "I listen to what you say and answer out loud. Ask me about the time, the date, or the weather."
			},
		},
	}
	return k
}

// Reply returns the first matching canned reply, or a fallback that echoes the
// original input verbatim. Pure apart from reading the clock.
func (k *Keyword) Reply(input string) string {
	normalized := strings.ToLower(input)
	now := k.now()
	for _, r := range k.rules {
		for _, keyword := range r.keywords {
			if strings.Contains(normalized, keyword) {
				return r.reply(input, now)
			}
		}
	}
	return fmt.Sprintf("You said: \"%s\". I'm still learning and don't have an answer for that yet.", input)
}
