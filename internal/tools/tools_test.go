package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/personatwin/internal/chat"
	"github.com/ent0n29/personatwin/internal/persona"
	"github.com/ent0n29/personatwin/internal/realtime"
)

type op struct {
	kind string
	item realtime.ConversationItem
}

type fakeSession struct {
	mu  sync.Mutex
	ops []op
}

func (s *fakeSession) SendItem(_ context.Context, item realtime.ConversationItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op{kind: "item", item: item})
	return nil
}

func (s *fakeSession) GenerateResponse(context.Context, realtime.ResponseOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op{kind: "generate"})
	return nil
}

type fakeSearcher struct {
	got    string
	result string
	err    error
}

func (f *fakeSearcher) Search(_ context.Context, query string) (string, error) {
	f.got = query
	return f.result, f.err
}

func newTestHandler(t *testing.T, s *fakeSearcher) (*Handler, *chat.Store) {
	t.Helper()
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	store := chat.NewStore()
	h := NewHandler(reg, s, persona.Default(), store, nil)
	h.GroundingDelay = time.Millisecond
	h.ConstraintDelay = time.Millisecond
	return h, store
}

func completedCall(callID, name, args string) *realtime.FunctionCallItem {
	item := realtime.NewFunctionCallItem("item_"+callID, callID, name)
	item.Complete(args)
	return item
}

// assertOutputBeforeGenerate checks the first op answers callID and the last
// op requests a response.
func assertOutputBeforeGenerate(t *testing.T, s *fakeSession, callID string) {
	t.Helper()
	if len(s.ops) < 2 {
		t.Fatalf("ops = %+v, want output then generate", s.ops)
	}
	first := s.ops[0]
	if first.kind != "item" || first.item.Type != "function_call_output" || first.item.CallID != callID {
		t.Fatalf("first op = %+v, want function_call_output for %s", first, callID)
	}
	if last := s.ops[len(s.ops)-1]; last.kind != "generate" {
		t.Fatalf("last op = %+v, want generate", last)
	}
	for _, o := range s.ops[:len(s.ops)-1] {
		if o.kind == "generate" {
			t.Fatalf("generate requested before the sequence finished: %+v", s.ops)
		}
	}
}

func TestClassifierPrecedence(t *testing.T) {
	c := NewClassifier(persona.Default())
	tests := []struct {
		query string
		want  Category
	}{
		{"What megatrend will drive AI adoption?", CategoryMegatrend},
		{"How does AI change strategy?", CategoryTechnology},
		{"Which industry faces transformation?", CategoryBusiness},
		{"Do employees need new skills for scenario planning?", CategoryWorkforce},
		{"Give me a forecast", CategoryStrategy},
		{"Tell me about your background", CategoryPersona},
		{"long-term view please", CategoryMegatrend},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r, ok := c.Classify(tt.query)
			if !ok || r.Category != tt.want {
				t.Fatalf("Classify(%q) = %q, want %q", tt.query, r.Category, tt.want)
			}
		})
	}
	if _, ok := c.Classify("xyz123"); ok {
		t.Fatalf("Classify(xyz123) matched, want no category")
	}
	if _, ok := c.Classify("said something"); ok {
		t.Fatalf("Classify matched inside a word")
	}
}

func TestExpandAppendsFirstMatchOnly(t *testing.T) {
	c := NewClassifier(persona.Default())
	got, cat := c.Expand("AI strategy")
	if cat != CategoryTechnology {
		t.Fatalf("category = %q, want technology", cat)
	}
	want := "AI strategy AI automation technology digital disruption innovation"
	if got != want {
		t.Fatalf("Expand() = %q, want %q", got, want)
	}
	for i := 0; i < 10; i++ {
		if again, _ := c.Expand("AI strategy"); again != got {
			t.Fatalf("Expand() not deterministic: %q vs %q", again, got)
		}
	}
}

func TestRegistryDeclaresSchemas(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	tools := reg.Tools()
	if len(tools) != 2 || tools[0].Name != FuncTime || tools[1].Name != FuncSearch {
		t.Fatalf("Tools() = %+v, want get_time and search", tools)
	}
	var schema map[string]any
	if err := json.Unmarshal(tools[1].Parameters, &schema); err != nil {
		t.Fatalf("search schema not JSON: %v", err)
	}
	props, _ := schema["properties"].(map[string]any)
	if _, ok := props["query"]; !ok {
		t.Fatalf("search schema = %s, missing query", tools[1].Parameters)
	}
}

func TestParseRepairsAndValidates(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	call, err := reg.Parse("c1", FuncSearch, `{"query": "future of work"`)
	if err != nil {
		t.Fatalf("Parse(truncated) error = %v", err)
	}
	sc, ok := call.(SearchCall)
	if !ok || sc.Args.Query != "future of work" {
		t.Fatalf("Parse() = %+v, want query", call)
	}
	if _, err := reg.Parse("c2", FuncSearch, `{"q": 1}`); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("Parse(wrong field) error = %v, want %v", err, ErrInvalidArguments)
	}
	if call, _ := reg.Parse("c3", "weather", `{}`); call.Function() != "weather" {
		t.Fatalf("Parse(unknown) = %+v, want UnknownCall", call)
	}
}

func TestHandleTime(t *testing.T) {
	h, _ := newTestHandler(t, &fakeSearcher{})
	h.Now = func() time.Time { return time.Date(2026, 3, 4, 15, 4, 5, 0, time.UTC) }
	h.Location = time.UTC
	sess := &fakeSession{}

	if _, err := h.Handle(context.Background(), sess, completedCall("t1", FuncTime, "{}")); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	assertOutputBeforeGenerate(t, sess, "t1")
	if got := sess.ops[0].item.Output; got != "Wednesday, March 4, 2026 at 03:04:05 PM UTC" {
		t.Fatalf("time output = %q", got)
	}
}

func TestHandleSearchSuccess(t *testing.T) {
	searcher := &fakeSearcher{result: "Found 1 relevant document"}
	h, store := newTestHandler(t, searcher)
	sess := &fakeSession{}

	res, err := h.Handle(context.Background(), sess, completedCall("s1", FuncSearch, `{"query":"AI impact"}`))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !res.Searched || res.SearchResults != searcher.result {
		t.Fatalf("Result = %+v, want searched", res)
	}
	if !strings.HasPrefix(searcher.got, "AI impact AI automation") {
		t.Fatalf("searched %q, want expanded query", searcher.got)
	}
	assertOutputBeforeGenerate(t, sess, "s1")
	if len(sess.ops) != 3 {
		t.Fatalf("ops = %d, want output, system, generate", len(sess.ops))
	}
	if !strings.Contains(sess.ops[0].item.Output, searcher.result) {
		t.Fatalf("grounding context missing results")
	}
	if sess.ops[1].item.Role != "system" {
		t.Fatalf("second op = %+v, want system message", sess.ops[1])
	}
	msgs := store.Messages()
	if len(msgs) != 1 || msgs[0].Kind != chat.KindStatus || msgs[0].Content != "Searching knowledge base [AI impact]..." {
		t.Fatalf("messages = %+v, want one status", msgs)
	}
}

func TestHandleSearchZeroResults(t *testing.T) {
	searcher := &fakeSearcher{result: `No relevant documents found for query: "xyz123". Try rephrasing the question.`}
	h, _ := newTestHandler(t, searcher)
	sess := &fakeSession{}

	if _, err := h.Handle(context.Background(), sess, completedCall("z", FuncSearch, `{"query":"xyz123"}`)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	assertOutputBeforeGenerate(t, sess, "z")
	if !strings.Contains(sess.ops[0].item.Output, `No relevant documents found for query: "xyz123"`) {
		t.Fatalf("output = %q, want no-results text", sess.ops[0].item.Output)
	}
}

func TestHandleSearchFailureFallsBack(t *testing.T) {
	h, _ := newTestHandler(t, &fakeSearcher{err: errors.New("timeout")})
	sess := &fakeSession{}

	res, err := h.Handle(context.Background(), sess, completedCall("f", FuncSearch, `{"query":"trends"}`))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Searched {
		t.Fatalf("Searched = true on failure")
	}
	assertOutputBeforeGenerate(t, sess, "f")
	if len(sess.ops) != 2 || sess.ops[0].item.Output != FallbackOutput {
		t.Fatalf("ops = %+v, want fallback then generate", sess.ops)
	}
}

func TestHandleInvalidArgumentsFallsBack(t *testing.T) {
	searcher := &fakeSearcher{}
	h, _ := newTestHandler(t, searcher)
	sess := &fakeSession{}

	if _, err := h.Handle(context.Background(), sess, completedCall("x", FuncSearch, `{"query":""}`)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if searcher.got != "" {
		t.Fatalf("searcher called with %q", searcher.got)
	}
	assertOutputBeforeGenerate(t, sess, "x")
}

func TestHandleUnknownFunction(t *testing.T) {
	h, _ := newTestHandler(t, &fakeSearcher{})
	sess := &fakeSession{}

	if _, err := h.Handle(context.Background(), sess, completedCall("u", "weather", `{}`)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	assertOutputBeforeGenerate(t, sess, "u")
	if want := `{"error":"function \"weather\" is not implemented"}`; sess.ops[0].item.Output != want {
		t.Fatalf("output = %q, want %q", sess.ops[0].item.Output, want)
	}
}

func TestHandleWaitsForCompletion(t *testing.T) {
	h, _ := newTestHandler(t, &fakeSearcher{result: "r"})
	sess := &fakeSession{}
	item := realtime.NewFunctionCallItem("i", "w", FuncSearch)

	done := make(chan error, 1)
	go func() {
		_, err := h.Handle(context.Background(), sess, item)
		done <- err
	}()
	select {
	case <-done:
		t.Fatalf("Handle() returned before the call completed")
	case <-time.After(30 * time.Millisecond):
	}
	item.Complete(`{"query":"q"}`)
	if err := <-done; err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	assertOutputBeforeGenerate(t, sess, "w")
}

func TestValidateResponse(t *testing.T) {
	good := ValidateResponse("I recommend you consider this megatrend: 60% of organizations in our research adapt their strategy early.")
	if !good.Passed() {
		t.Fatalf("Violations = %v, want none", good.Violations)
	}
	bad := ValidateResponse("Generally speaking, it is hard to say much about that topic without more details here.")
	if bad.Passed() {
		t.Fatalf("generic response passed validation")
	}
}
