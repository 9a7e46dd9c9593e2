package generator

import (
	"strings"
)

const (
	systemMarker    = "### System:"
	contextMarker   = "### Context:"
	humanMarker     = "### Human:"
	assistantMarker = "### Assistant:"

	// LeadIn is the assistant line the prompt ends with.
	LeadIn = "Let me help you with that based on the policy information provided."
)

// JoinContext concatenates retrieved passages the way they appear in the prompt.
func JoinContext(docs []string) string {
	return strings.Join(docs, "\n\n")
}

// Render fills the prompt template.
func Render(question, context string) string {
	var b strings.Builder
	b.WriteString(systemMarker + " You are an insurance policy assistant. \n")
	b.WriteString("Provide accurate, clear answers based only on the provided policy information.\n\n")
	b.WriteString(contextMarker + " \n")
	b.WriteString(context)
	b.WriteString("\n\n" + humanMarker + " ")
	b.WriteString(question)
	b.WriteString("\n\n" + assistantMarker + " " + LeadIn)
	return b.String()
}

// Parse recovers the question and context from a rendered prompt. ok is false
// when prompt does not follow the template.
func Parse(prompt string) (question, context string, ok bool) {
	ci := strings.Index(prompt, contextMarker)
	hi := strings.LastIndex(prompt, "\n\n"+humanMarker)
	ai := strings.LastIndex(prompt, "\n\n"+assistantMarker)
	if ci < 0 || hi < ci || ai < hi {
		return "", "", false
	}
	context = strings.TrimPrefix(prompt[ci+len(contextMarker):hi], " \n")
	question = strings.TrimPrefix(prompt[hi+len("\n\n"+humanMarker):ai], " ")
	return question, context, true
}

// Extract returns the reply that follows the last assistant marker, or the
// whole trimmed output when the model did not echo the template.
func Extract(output string) string {
	if i := strings.LastIndex(output, assistantMarker); i >= 0 {
		return strings.TrimSpace(output[i+len(assistantMarker):])
	}
	return strings.TrimSpace(output)
}
