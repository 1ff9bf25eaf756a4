package pipeline

import (
	"fmt"
	"strings"

	"github.com/poiesic/contentpulse/ai"
)

// Topic is one area the pipeline builds a candidate set for. Each query is
// embedded and searched across every source.
type Topic struct {
	Name    string
	Label   string
	Queries []string
}

// hint is the context passed to the synthesizer with the topic's candidates.
func (t Topic) hint() string {
	if t.Label == "" || strings.EqualFold(t.Label, t.Name) {
		return t.Name
	}
	return fmt.Sprintf("%s (%s)", t.Name, t.Label)
}

var subtopics = map[string][2]string{
	"general":       {"current events", "public interest stories"},
	"technology":    {"emerging tech trends", "AI developments"},
	"health":        {"medical research", "wellness trends"},
	"sports":        {"sports events", "athlete performances"},
	"politics":      {"policy developments", "election news"},
	"science":       {"scientific discoveries", "research findings"},
	"business":      {"market trends", "company news"},
	"entertainment": {"movie releases", "TV show updates"},
}

// DefaultTopics returns one topic per suggestion label. Each topic carries
// a news query and a community discussion query.
func DefaultTopics() []Topic {
	topics := make([]Topic, 0, len(ai.Labels))
	for _, label := range ai.Labels {
		sub := subtopics[label]
		topics = append(topics, Topic{
			Name:  label,
			Label: label,
			Queries: []string{
				fmt.Sprintf("Latest %s news and developments", label),
				fmt.Sprintf("Trending discussions about %s and %s in r/%s", sub[0], sub[1], label),
			},
		})
	}
	return topics
}
