package synthesis

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/contentpulse/ai"
	"github.com/poiesic/contentpulse/core"
)

const systemPrompt = `You are a content strategist. You read recent news articles and community discussions and suggest one topic worth writing about. You answer with a single JSON object and nothing else.`

const exampleBlock = `EXAMPLE INPUT:
1. AI Ethics Group Warns of Risks in Healthcare Applications
A leading AI ethics organization released a report highlighting concerns about rapid deployment of AI systems in healthcare without proper validation or oversight.

EXAMPLE OUTPUT:
{
  "topic": "AI ethics in healthcare",
  "keywords": ["AI validation", "medical oversight", "patient safety", "algorithmic bias"],
  "rationale": "Ethics experts warn that unvalidated AI systems in hospitals put patients at risk, and readers want to know what oversight exists.",
  "label": "technology"
}`

const taskTemplate = `Suggest ONE topic that ties the items above together. Return a JSON object with these fields:
1. "topic": a precise 3-8 word headline
2. "keywords": an array of 1 to %d specific terms, avoid generic words
3. "rationale": one sentence on why this topic is worth writing about now
4. "label": exactly one of [%s], or "" if none fits

Use double quotes for all keys and strings. No trailing commas. No text outside the object.`

const strictInstruction = `Your previous answer could not be parsed. Reply again with ONLY the JSON object described above. Start with { and end with }. Do not use code fences.`

// prompt is a rendered request together with the candidates it cites.
type prompt struct {
	system   string
	user     string
	included []core.ScoredItem
}

// buildPrompt renders candidates into a prompt of at most budget characters.
// Candidates are assumed to be ranked best first; the lowest ranked ones are
// dropped until the prompt fits. Each candidate body is cut to snippetChars.
func buildPrompt(candidates []core.ScoredItem, contextHint string, budget, snippetChars int) (prompt, error) {
	snippets := make([]string, len(candidates))
	for i, c := range candidates {
		snippets[i] = snippet(c.Item, snippetChars)
	}

	for n := len(candidates); n > 0; n-- {
		user := render(snippets[:n], contextHint)
		if utf8.RuneCountInString(systemPrompt)+utf8.RuneCountInString(user) <= budget {
			return prompt{
				system:   systemPrompt,
				user:     user,
				included: candidates[:n],
			}, nil
		}
	}
	return prompt{}, fmt.Errorf("prompt budget of %d characters cannot fit a single candidate", budget)
}

func render(snippets []string, contextHint string) string {
	var b strings.Builder
	b.WriteString(exampleBlock)
	b.WriteString("\n\n")
	if hint := strings.TrimSpace(contextHint); hint != "" {
		fmt.Fprintf(&b, "CONTEXT: %s\n\n", hint)
	}
	b.WriteString("NOW ANALYZE THESE ITEMS:\n")
	for i, s := range snippets {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, s)
	}
	quoted := make([]string, len(ai.Labels))
	for i, l := range ai.Labels {
		quoted[i] = `"` + l + `"`
	}
	fmt.Fprintf(&b, taskTemplate, MaxKeywords, strings.Join(quoted, ", "))
	return b.String()
}

// snippet renders one item as a headline line followed by a trimmed body.
func snippet(item *core.ContentItem, maxChars int) string {
	title := strings.TrimSpace(item.Title)
	body := strings.Join(strings.Fields(item.Text), " ")
	if utf8.RuneCountInString(body) > maxChars {
		runes := []rune(body)
		cut := string(runes[:maxChars])
		if i := strings.LastIndexByte(cut, ' '); i > maxChars/2 {
			cut = cut[:i]
		}
		body = cut + "..."
	}

	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteByte('\n')
	}
	b.WriteString(body)
	if item.Source == core.SourceSocial {
		if sub := item.Metadata["subreddit"]; sub != "" {
			fmt.Fprintf(&b, "\n(discussion in r/%s)", sub)
		}
	}
	return b.String()
}
