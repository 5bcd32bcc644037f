package llm

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/reanm09/intellidocs/internal/models"
)

const (
	MaxPromptChunks  = 10
	MaxChunkChars    = 1500
	MaxUserBlockSize = 20000

	NoContextPlaceholder = "[No relevant PDF text found]"
	NotFoundAnswer       = "I cannot find that information."
)

const systemInstructions = `You are an expert technical analyst. Answer the user's question using only the provided context.

Formatting Rules:
- Use **Markdown** formatting (bolding, bullets).
- Explain code logic if present, don't just repeat it.
- Cite information using [Page X] or [Web X] format.
- If the answer is not in the context, say "` + NotFoundAnswer + `"`

// PromptInput is everything the answer prompt is built from.
type PromptInput struct {
	Query      string
	PDFChunks  []models.RetrievalHit
	WebSources []models.WebResult
	Mode       models.Mode
	History    []models.ConversationTurn
}

// Prompt is an assembled generation request. User is already capped at
// MaxUserBlockSize characters.
type Prompt struct {
	System string
	User   string
}

func (p Prompt) String() string {
	return p.System + "\n\n" + p.User
}

// FormatPrompt builds the bounded answer prompt.
func FormatPrompt(in PromptInput) Prompt {
	var blocks []string
	for i, hit := range in.PDFChunks {
		if i == MaxPromptChunks {
			break
		}
		text := truncate(strings.TrimSpace(hit.Text), MaxChunkChars)
		if text == "" {
			continue
		}
		page := "?"
		if p := hit.Page(); p > 0 {
			page = fmt.Sprint(p)
		}
		blocks = append(blocks, fmt.Sprintf("[Page %s]:\n%s", page, text))
	}

	chunks := NoContextPlaceholder
	if len(blocks) > 0 {
		chunks = strings.Join(blocks, "\n\n")
	}

	var body strings.Builder
	fmt.Fprintf(&body, "USER QUERY: %s\n\nDOCUMENT CONTEXT:\n%s", in.Query, chunks)

	if in.Mode == models.ModeHybrid && len(in.WebSources) > 0 {
		body.WriteString("\n\nWeb Sources:")
		for j, w := range in.WebSources {
			title := strings.TrimSpace(w.Title)
			if title == "" {
				title = "Web Source"
			}
			snippet := strings.ReplaceAll(strings.TrimSpace(w.Snippet), "\n", " ")
			fmt.Fprintf(&body, "\n[Web %d] %s (%s): %s", j+1, title, strings.TrimSpace(w.URL), snippet)
		}
	}

	user := truncate(body.String(), MaxUserBlockSize)
	history := formatHistory(in.History, MaxUserBlockSize-utf8.RuneCountInString(user))

	return Prompt{
		System: systemInstructions,
		User:   history + user,
	}
}

const historyHeader = "CONVERSATION HISTORY:\n"

// formatHistory renders turns within budget characters. The oldest turns
// are dropped first; the newest turn is cut short if it alone overflows.
func formatHistory(turns []models.ConversationTurn, budget int) string {
	budget -= utf8.RuneCountInString(historyHeader) + 1
	if len(turns) == 0 || budget <= 1 {
		return ""
	}

	var lines []string
	for i := len(turns) - 1; i >= 0; i-- {
		speaker := "User"
		if turns[i].Role == models.RoleAssistant {
			speaker = "Assistant"
		}
		line := fmt.Sprintf("%s: %s\n", speaker, strings.TrimSpace(turns[i].Content))
		n := utf8.RuneCountInString(line)
		if n > budget {
			if len(lines) == 0 {
				lines = append(lines, truncate(line, budget-1)+"\n")
			}
			break
		}
		lines = append(lines, line)
		budget -= n
	}
	slices.Reverse(lines)

	return historyHeader + strings.Join(lines, "") + "\n"
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
