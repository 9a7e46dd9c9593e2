package tui

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"policyrag/internal/domain"
	"policyrag/internal/retrieval"
	"policyrag/internal/router"
)

// AgentPort is the TUI-facing subset of the agent.
type AgentPort interface {
	AnswerQuestion(ctx context.Context, op domain.Operation, question string) domain.Answer
	Documents() []domain.Document
	Stats(ctx context.Context) ([]retrieval.CollectionStats, error)
	ModelInfo() domain.ModelInfo
	Models() []string
	SwitchModel(name string) (domain.ModelInfo, error)
}

// Questions are the sample question shortcuts: a1..aN and h1..hN.
type Questions struct {
	Auto   []string
	Health []string
}

// HistoryItem is one answered question.
type HistoryItem struct {
	Question   string
	Answer     string
	PolicyType domain.PolicyType
	Status     domain.AnswerStatus
	At         time.Time
}

// Reply is the outcome of a dispatched input line.
type Reply struct {
	Output string
	// Ask is set when the input is a question to be answered.
	Ask   string
	Clear bool
	Quit  bool
}

// Session holds the state of one chat session, independent of rendering.
type Session struct {
	agent     AgentPort
	router    *router.Router
	questions Questions
	user      string
	now       func() time.Time
	history   []HistoryItem
	// highlight decorates cited passages; identity unless a renderer sets it.
	highlight func(text, query string) string
}

func NewSession(agent AgentPort, r *router.Router, questions Questions, user string) *Session {
	return &Session{
		agent:     agent,
		router:    r,
		questions: questions,
		user:      user,
		now:       time.Now,
		highlight: func(text, _ string) string { return text },
	}
}

const rule = "=================================================="

var unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Dispatch interprets one input line. Commands are answered immediately;
// questions come back in Reply.Ask for the caller to pass to Answer.
func (s *Session) Dispatch(ctx context.Context, input string) Reply {
	line := strings.TrimSpace(input)
	if line == "" {
		return Reply{}
	}
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch {
	case cmd == "exit" || cmd == "quit":
		return Reply{Output: "Thank you for using policyrag. Goodbye!", Quit: true}
	case cmd == "help" && arg == "":
		return Reply{Output: s.help()}
	case cmd == "auto" && arg == "":
		return Reply{Output: listQuestions("Auto Insurance Questions:", "a", s.questions.Auto)}
	case cmd == "health" && arg == "":
		return Reply{Output: listQuestions("Health Insurance Questions:", "h", s.questions.Health)}
	case cmd == "history" && arg == "":
		return Reply{Output: s.showHistory()}
	case cmd == "list" && arg == "":
		return Reply{Output: s.listDocuments()}
	case cmd == "stats" && arg == "":
		return Reply{Output: s.stats(ctx)}
	case cmd == "llm" && arg == "":
		return Reply{Output: s.llmInfo()}
	case cmd == "model":
		return Reply{Output: s.selectModel(arg)}
	case cmd == "show_doc":
		return Reply{Output: s.showDocument(arg)}
	case cmd == "clear" && arg == "":
		return Reply{Clear: true}
	}
	if q, ok := s.shortcut(cmd); ok && arg == "" {
		return Reply{Ask: q}
	}
	return Reply{Ask: line}
}

func (s *Session) shortcut(cmd string) (string, bool) {
	if len(cmd) < 2 {
		return "", false
	}
	var list []string
	switch cmd[0] {
	case 'a':
		list = s.questions.Auto
	case 'h':
		list = s.questions.Health
	default:
		return "", false
	}
	n, err := strconv.Atoi(cmd[1:])
	if err != nil || n < 1 || n > len(list) {
		return "", false
	}
	return list[n-1], true
}

// Answer asks the agent and records the exchange in the history.
func (s *Session) Answer(ctx context.Context, question string) string {
	op := domain.NewOperation(s.user, s.now())
	ans := s.agent.AnswerQuestion(ctx, op, question)
	s.history = append(s.history, HistoryItem{
		Question:   question,
		Answer:     ans.Response,
		PolicyType: s.router.Classify(question),
		Status:     ans.Status,
		At:         op.At,
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Q: %s\n\nAnswer:\n%s\n%s\n%s\n", question, rule, ans.Response, rule)
	if len(ans.SimilarDocuments) > 0 {
		b.WriteString("\nRelevant Policy Sections:\n")
		for i, d := range ans.SimilarDocuments {
			fmt.Fprintf(&b, "\n%d. [%s] %s\n", i+1, d.PolicyType, s.highlight(truncate(d.Content, 200), question))
		}
	}
	switch ans.Status {
	case domain.StatusCached:
		b.WriteString("\n(answer served from cache)\n")
	case domain.StatusFailed:
		fmt.Fprintf(&b, "\n(error: %s)\n", ans.ErrorKind)
	}
	return b.String()
}

// History returns the answered questions, oldest first.
func (s *Session) History() []HistoryItem {
	return append([]HistoryItem(nil), s.history...)
}

func (s *Session) help() string {
	var b strings.Builder
	b.WriteString("Available Commands:\n")
	for _, c := range [][2]string{
		{"help", "Show this help message"},
		{"auto", "Show auto insurance questions"},
		{"health", "Show health insurance questions"},
		{"history", "Show question history"},
		{"list", "Show list of stored documents"},
		{"stats", "Show collection statistics"},
		{"llm", "Show LLM model information"},
		{"model [n|name]", "Select a different LLM model"},
		{"show_doc <type>", "Show the full policy of a type (auto, health, ...)"},
		{"clear", "Clear screen"},
		{"exit", "Exit the program"},
	} {
		fmt.Fprintf(&b, "  %-16s - %s\n", c[0], c[1])
	}
	b.WriteString("\n" + listQuestions("Example Auto Insurance Questions:", "a", s.questions.Auto))
	b.WriteString("\n" + listQuestions("Example Health Insurance Questions:", "h", s.questions.Health))
	fmt.Fprintf(&b, "\nTip: use a1-a%d for auto questions or h1-h%d for health questions\n",
		len(s.questions.Auto), len(s.questions.Health))
	return b.String()
}

func listQuestions(title, prefix string, qs []string) string {
	var b strings.Builder
	b.WriteString(title + "\n")
	for i, q := range qs {
		fmt.Fprintf(&b, "  %s%d. %s\n", prefix, i+1, q)
	}
	return b.String()
}

func (s *Session) showHistory() string {
	if len(s.history) == 0 {
		return "No questions asked yet."
	}
	var b strings.Builder
	b.WriteString("Question History:\n")
	for i, h := range s.history {
		fmt.Fprintf(&b, "\n%d. Q: %s\n   A: %s\n   Policy Type: %s\n", i+1, h.Question, truncate(h.Answer, 150), h.PolicyType)
	}
	return b.String()
}

// sourceDoc is a source file reassembled from its chunks.
type sourceDoc struct {
	name     string
	types    []domain.PolicyType
	sections []string
}

func groupBySource(docs []domain.Document) []*sourceDoc {
	var order []*sourceDoc
	bySource := map[string]*sourceDoc{}
	for _, d := range docs {
		src := d.Source()
		sd, ok := bySource[src]
		if !ok {
			name := d.Metadata[domain.MetaFileName]
			if name == "" {
				name = src
			}
			sd = &sourceDoc{name: name}
			bySource[src] = sd
			order = append(order, sd)
		}
		if t := d.Type(); !containsType(sd.types, t) {
			sd.types = append(sd.types, t)
		}
		sd.sections = append(sd.sections, strings.TrimSpace(d.Content))
	}
	return order
}

func containsType(ts []domain.PolicyType, t domain.PolicyType) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func (s *Session) listDocuments() string {
	sources := groupBySource(s.agent.Documents())
	if len(sources) == 0 {
		return "No documents loaded."
	}
	var b strings.Builder
	b.WriteString("Stored Documents:\n" + rule + "\n")
	for _, sd := range sources {
		sections := strings.Split(strings.Join(sd.sections, "\n\n"), "\n\n")
		fmt.Fprintf(&b, "\nFile: %s (%s)\n", sd.name, joinTypes(sd.types))
		for _, sec := range sections[:min(3, len(sections))] {
			if sec = strings.TrimSpace(sec); sec != "" {
				b.WriteString(sec + "\n")
			}
		}
		fmt.Fprintf(&b, "...\nTotal sections: %d\n", len(sections))
	}
	return b.String()
}

func joinTypes(ts []domain.PolicyType) string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return strings.Join(out, ", ")
}

func (s *Session) showDocument(arg string) string {
	t := domain.PolicyType(strings.ToLower(strings.TrimSpace(arg)))
	if t == "" {
		return "Usage: show_doc <type>"
	}
	var docs []domain.Document
	for _, d := range s.agent.Documents() {
		if d.Type() == t {
			docs = append(docs, d)
		}
	}
	if len(docs) == 0 {
		return fmt.Sprintf("No %s policy document loaded.", t)
	}
	var b strings.Builder
	for _, sd := range groupBySource(docs) {
		fmt.Fprintf(&b, "Full content of %s:\n%s\n%s\n\n", sd.name, rule, strings.Join(sd.sections, "\n\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Session) stats(ctx context.Context) string {
	stats, err := s.agent.Stats(ctx)
	if err != nil {
		return "Error getting collection stats: " + err.Error()
	}
	var b strings.Builder
	b.WriteString("Collection Statistics:\n" + rule + "\n")
	total := 0
	for _, st := range stats {
		total += st.Count
		fmt.Fprintf(&b, "\n%s (%s)\nNumber of Documents: %d\n", st.Name, st.Type, st.Count)
		if len(st.IDs) > 0 {
			b.WriteString("Document IDs:\n")
			for i, id := range st.IDs {
				fmt.Fprintf(&b, "  %d. %s\n", i+1, id)
			}
		}
	}
	fmt.Fprintf(&b, "\nTotal Documents: %d\nTimestamp: %s\n%s", total, s.now().UTC().Format(domain.TimestampLayout), rule)
	return b.String()
}

func (s *Session) llmInfo() string {
	info := s.agent.ModelInfo()
	return fmt.Sprintf("Current LLM Configuration:\n%s\nModel: %s\nProvider: %s\n%s", rule, info.Name, info.Provider, rule)
}

// selectModel lists the models without an argument, otherwise switches by
// list number or by name.
func (s *Session) selectModel(arg string) string {
	models := s.agent.Models()
	if arg == "" {
		if len(models) == 0 {
			return "No alternative models configured. Use: model <name>"
		}
		var b strings.Builder
		b.WriteString("Available LLM Models:\n")
		for i, m := range models {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, m)
		}
		b.WriteString("\nSelect with: model <n> or model <name>")
		return b.String()
	}
	name := arg
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(models) {
			return "Invalid choice. Keeping current model."
		}
		name = models[n-1]
	}
	info, err := s.agent.SwitchModel(name)
	if err != nil {
		return "Could not switch model: " + err.Error()
	}
	return fmt.Sprintf("Switched to model: %s (%s)", info.Name, info.Provider)
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
