package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/domain"
	"policyrag/internal/retrieval"
	"policyrag/internal/router"
)

type fakeAgent struct {
	docs     []domain.Document
	stats    []retrieval.CollectionStats
	model    domain.ModelInfo
	models   []string
	asked    []string
	answer   domain.Answer
	switched string
}

func (f *fakeAgent) AnswerQuestion(_ context.Context, op domain.Operation, q string) domain.Answer {
	f.asked = append(f.asked, q)
	a := f.answer
	a.User, a.Timestamp = op.User, op.At
	return a
}

func (f *fakeAgent) Documents() []domain.Document { return f.docs }

func (f *fakeAgent) Stats(context.Context) ([]retrieval.CollectionStats, error) {
	return f.stats, nil
}

func (f *fakeAgent) ModelInfo() domain.ModelInfo { return f.model }
func (f *fakeAgent) Models() []string            { return f.models }

func (f *fakeAgent) SwitchModel(name string) (domain.ModelInfo, error) {
	if name == "broken" {
		return domain.ModelInfo{}, errors.New("no such model")
	}
	f.switched = name
	f.model = domain.ModelInfo{Name: name, Provider: "ollama"}
	return f.model, nil
}

var sampleQuestions = Questions{
	Auto:   []string{"What is my collision deductible?", "What are my liability limits for auto?"},
	Health: []string{"What is my primary care copay?"},
}

func newTestSession(agent *fakeAgent) *Session {
	s := NewSession(agent, router.Default(), sampleQuestions, "tester")
	s.now = func() time.Time { return time.Date(2025, 1, 20, 22, 18, 11, 0, time.UTC) }
	return s
}

func TestDispatch_Commands(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(&fakeAgent{})

	assert.Equal(t, Reply{}, s.Dispatch(ctx, "   "))
	assert.True(t, s.Dispatch(ctx, "exit").Quit)
	assert.True(t, s.Dispatch(ctx, "QUIT").Quit)
	assert.True(t, s.Dispatch(ctx, "clear").Clear)

	help := s.Dispatch(ctx, "help").Output
	assert.Contains(t, help, "show_doc <type>")
	assert.Contains(t, help, "a1. What is my collision deductible?")
	assert.Contains(t, help, "h1. What is my primary care copay?")

	assert.Contains(t, s.Dispatch(ctx, "auto").Output, "a2. What are my liability limits for auto?")
	assert.Contains(t, s.Dispatch(ctx, "Health").Output, "h1. What is my primary care copay?")
	assert.Equal(t, "No questions asked yet.", s.Dispatch(ctx, "history").Output)
}

func TestDispatch_Questions(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(&fakeAgent{})

	assert.Equal(t, Reply{Ask: "What is my collision deductible?"}, s.Dispatch(ctx, "a1"))
	assert.Equal(t, Reply{Ask: "What is my primary care copay?"}, s.Dispatch(ctx, "H1"))
	assert.Equal(t, Reply{Ask: "h9"}, s.Dispatch(ctx, "h9"))
	assert.Equal(t, Reply{Ask: "Does my health plan cover therapy?"}, s.Dispatch(ctx, "Does my health plan cover therapy?"))
	assert.Equal(t, Reply{Ask: "auto claims process"}, s.Dispatch(ctx, "auto claims process"))
}

func TestAnswer_RecordsHistory(t *testing.T) {
	agent := &fakeAgent{answer: domain.Answer{
		Response: "Your copay is $25.",
		Status:   domain.StatusCached,
		SimilarDocuments: []domain.SearchResult{
			{Content: "Copay: $25 per visit", PolicyType: domain.PolicyHealth},
		},
	}}
	s := newTestSession(agent)

	out := s.Answer(context.Background(), "What is my copay?")
	assert.Contains(t, out, "Your copay is $25.")
	assert.Contains(t, out, "1. [health] Copay: $25 per visit")
	assert.Contains(t, out, "served from cache")
	assert.Equal(t, []string{"What is my copay?"}, agent.asked)

	h := s.History()
	require.Len(t, h, 1)
	assert.Equal(t, domain.PolicyHealth, h[0].PolicyType)
	assert.Equal(t, domain.StatusCached, h[0].Status)
	assert.Contains(t, s.Dispatch(context.Background(), "history").Output, "Policy Type: health")
}

func TestAnswer_ShowsErrorKind(t *testing.T) {
	agent := &fakeAgent{answer: domain.Answer{Response: "sorry", Status: domain.StatusFailed, ErrorKind: "retrieval"}}
	out := newTestSession(agent).Answer(context.Background(), "q")
	assert.Contains(t, out, "(error: retrieval)")
}

func TestDispatch_DocumentsAndStats(t *testing.T) {
	ctx := context.Background()
	agent := &fakeAgent{
		docs: []domain.Document{
			{Content: "HEALTH INSURANCE POLICY\n\nCopay: $25", Metadata: domain.Metadata{
				domain.MetaSource: "/docs/health_policy.txt", domain.MetaFileName: "health_policy.txt", domain.MetaDocType: "health",
			}},
			{Content: "Collision deductible $500", Metadata: domain.Metadata{
				domain.MetaSource: "/docs/notes.txt", domain.MetaFileName: "notes.txt", domain.MetaDocType: "auto",
			}},
			{Content: "Liability limits apply", Metadata: domain.Metadata{
				domain.MetaSource: "/docs/notes.txt", domain.MetaFileName: "notes.txt", domain.MetaDocType: "auto",
			}},
		},
		stats: []retrieval.CollectionStats{
			{Type: "health", Name: "health_insurance", Count: 1, IDs: []string{"health_0"}},
			{Type: "auto", Name: "auto_insurance", Count: 2, IDs: []string{"auto_0", "auto_1"}},
		},
	}
	s := newTestSession(agent)

	list := s.Dispatch(ctx, "list").Output
	assert.Contains(t, list, "File: health_policy.txt (health)")
	assert.Contains(t, list, "File: notes.txt (auto)")
	assert.Contains(t, list, "Total sections: 2")

	doc := s.Dispatch(ctx, "show_doc auto").Output
	assert.Contains(t, doc, "Full content of notes.txt:")
	assert.Contains(t, doc, "Collision deductible $500\n\nLiability limits apply")
	assert.NotContains(t, doc, "HEALTH")

	assert.Equal(t, "No home policy document loaded.", s.Dispatch(ctx, "show_doc home").Output)
	assert.Equal(t, "Usage: show_doc <type>", s.Dispatch(ctx, "show_doc").Output)

	stats := s.Dispatch(ctx, "stats").Output
	assert.Contains(t, stats, "health_insurance (health)")
	assert.Contains(t, stats, "  2. auto_1")
	assert.Contains(t, stats, "Total Documents: 3")
	assert.Contains(t, stats, "Timestamp: 2025-01-20 22:18:11")
}

func TestDispatch_Models(t *testing.T) {
	ctx := context.Background()
	agent := &fakeAgent{
		model:  domain.ModelInfo{Name: "frequency", Provider: "extractive"},
		models: []string{"llama3.1", "mistral"},
	}
	s := newTestSession(agent)

	assert.Contains(t, s.Dispatch(ctx, "llm").Output, "Model: frequency")
	assert.Contains(t, s.Dispatch(ctx, "model").Output, "2. mistral")
	assert.Equal(t, "Switched to model: mistral (ollama)", s.Dispatch(ctx, "model 2").Output)
	assert.Equal(t, "mistral", agent.switched)
	assert.Equal(t, "Switched to model: phi3 (ollama)", s.Dispatch(ctx, "model phi3").Output)
	assert.Equal(t, "Invalid choice. Keeping current model.", s.Dispatch(ctx, "model 7").Output)
	assert.Contains(t, s.Dispatch(ctx, "model broken").Output, "no such model")
}

func TestModel_EnterRunsCommand(t *testing.T) {
	s := newTestSession(&fakeAgent{answer: domain.Answer{Response: "fine", Status: domain.StatusAnswered}})
	m := New(context.Background(), s, "policyrag")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = next.(Model)

	m.input.SetValue("auto")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.Contains(t, m.transcript[len(m.transcript)-1], "Auto Insurance Questions:")
	assert.False(t, m.busy)

	m.input.SetValue("h1")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.True(t, m.busy)
	require.NotNil(t, cmd)

	next, _ = m.Update(answerMsg{output: s.Answer(context.Background(), "What is my primary care copay?")})
	m = next.(Model)
	assert.False(t, m.busy)
	assert.Contains(t, m.transcript[len(m.transcript)-1], "fine")
	assert.Contains(t, m.View(), "policyrag")
}
