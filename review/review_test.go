package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/songzhibin97/graph-engine/logging"
	"github.com/songzhibin97/graph-engine/storage"
	"github.com/songzhibin97/graph-engine/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cleanCode = `package sample

func Double(x int) int {
	return x * 2
}

func Half(x int) int {
	return x / 2
}
`

const snippetCode = `func add(a, b int) int {
	total := a + b
	unused := 3
	return total
}
`

// messyCode returns a function with ten unused variables and eleven statements.
func messyCode() string {
	var b strings.Builder
	b.WriteString("package sample\n\nfunc messy(x int) int {\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "\tv%d := %d\n", i, i)
	}
	b.WriteString("\treturn x\n}\n")
	return b.String()
}

func runAll(t *testing.T, s State) State {
	t.Helper()
	ctx := context.Background()
	var err error
	for _, op := range []workflow.Operation[State]{ExtractFunctions, CheckComplexity, DetectIssues, SuggestImprovements} {
		s, err = op(ctx, s)
		require.NoError(t, err)
	}
	return s
}

func TestExtractFunctions(t *testing.T) {
	s, err := ExtractFunctions(context.Background(), NewState(cleanCode))
	require.NoError(t, err)
	assert.Equal(t, []string{"Double", "Half"}, s.Functions)

	methods := `package sample
type T struct{}
func (t *T) Run() {}
func (t T) Name() string { return "" }
type G[K any] struct{}
func (g G[K]) Get() {}
`
	s, err = ExtractFunctions(context.Background(), NewState(methods))
	require.NoError(t, err)
	assert.Equal(t, []string{"T.Run", "T.Name", "G.Get"}, s.Functions)

	s, err = ExtractFunctions(context.Background(), NewState("func {"))
	require.NoError(t, err)
	assert.Empty(t, s.Functions)
	assert.NotNil(t, s.Functions)
}

func TestCheckComplexity(t *testing.T) {
	s, err := CheckComplexity(context.Background(), NewState(messyCode()))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"messy": 11}, s.Complexity)

	s, err = CheckComplexity(context.Background(), NewState(snippetCode))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"add": 3}, s.Complexity)
}

func TestDetectIssues(t *testing.T) {
	s, err := DetectIssues(context.Background(), NewState(cleanCode))
	require.NoError(t, err)
	assert.Empty(t, s.Issues)

	s, err = DetectIssues(context.Background(), NewState(snippetCode))
	require.NoError(t, err)
	require.Len(t, s.Issues, 1)
	assert.Equal(t, 3, s.Issues[0].Line)
	assert.Contains(t, s.Issues[0].Message, "not used")
	assert.Contains(t, s.Issues[0].Message, "unused")

	empty := `package sample

func f(xs []int) {
	if len(xs) > 0 {
	}
	for range xs {
	}
}
`
	s, err = DetectIssues(context.Background(), NewState(empty))
	require.NoError(t, err)
	require.Len(t, s.Issues, 2)
	assert.Equal(t, Issue{Line: 4, Message: "empty if block"}, s.Issues[0])
	assert.Equal(t, Issue{Line: 6, Message: "empty loop body"}, s.Issues[1])

	s, err = DetectIssues(context.Background(), NewState("package sample\nfunc {"))
	require.NoError(t, err)
	require.NotEmpty(t, s.Issues)
	assert.True(t, strings.HasPrefix(s.Issues[0].Message, "syntax error"))
}

func TestDetectIssuesWithImports(t *testing.T) {
	code := `package sample

import (
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"gopkg.in/yaml.v3"
)

func Fetch(url string) error {
	_, err := http.Get(url)
	unused := 1
	_ = redis.Nil
	_ = yaml.Marshal
	return err
}
`
	s, err := DetectIssues(context.Background(), NewState(code))
	require.NoError(t, err)
	require.Len(t, s.Issues, 2)
	assert.Equal(t, 5, s.Issues[0].Line)
	assert.Contains(t, s.Issues[0].Message, `"strings" imported and not used`)
	assert.Equal(t, 13, s.Issues[1].Line)
	assert.Contains(t, s.Issues[1].Message, "unused")
}

func TestPackageName(t *testing.T) {
	cases := map[string]string{
		"fmt":                          "fmt",
		"net/http":                     "http",
		"github.com/go-redis/redis/v8": "redis",
		"gopkg.in/yaml.v3":             "yaml",
		"github.com/mattn/go-sqlite3":  "sqlite3",
		"github.com/google/uuid":       "uuid",
		"github.com/foo/bar-baz":       "bar_baz",
		"github.com/tidwall/gjson-go":  "gjson",
	}
	for path, want := range cases {
		assert.Equal(t, want, packageName(path), path)
	}

	im := newStubImporter()
	pkg, err := im.Import("net/http")
	require.NoError(t, err)
	assert.True(t, pkg.Complete())
	again, err := im.Import("net/http")
	require.NoError(t, err)
	assert.Same(t, pkg, again)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 1.0, Score(0, nil))
	assert.Equal(t, 1.0, Score(0, map[string]int{"f": 5}))
	assert.InDelta(t, 0.88, Score(1, map[string]int{"f": 2}), 1e-9)
	assert.InDelta(t, 0.4, Score(20, nil), 1e-9)
	assert.InDelta(t, 0.7, Score(0, map[string]int{"f": 100}), 1e-9)
	assert.InDelta(t, 0.16, Score(10, map[string]int{"f": 11}), 1e-9)
}

func TestSuggestImprovements(t *testing.T) {
	s := NewState("")
	s.Complexity = map[string]int{"big": 20, "mid": 9, "small": 2}
	s.Issues = []Issue{{Line: 7, Message: "declared and not used: x"}}
	s.Iter = 2

	s, err := SuggestImprovements(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, s.Suggestions, 3)
	assert.Contains(t, s.Suggestions[0], "'big'")
	assert.Contains(t, s.Suggestions[0], "breaking it into smaller functions")
	assert.Contains(t, s.Suggestions[1], "'mid'")
	assert.Equal(t, "Resolve issue at line 7: declared and not used: x", s.Suggestions[2])
	assert.Equal(t, 3, s.Iter)
	assert.InDelta(t, Score(1, s.Complexity), s.QualityScore, 1e-9)
}

func TestOperationsPipeline(t *testing.T) {
	clean := runAll(t, NewState(cleanCode))
	assert.Equal(t, 1.0, clean.QualityScore)
	assert.True(t, clean.Accepted())
	assert.Equal(t, 1, clean.Iter)
	assert.Empty(t, clean.Suggestions)

	messy := runAll(t, NewState(messyCode()))
	assert.Len(t, messy.Issues, 10)
	assert.InDelta(t, 0.16, messy.QualityScore, 1e-9)
	assert.False(t, messy.Accepted())
}

func TestStateField(t *testing.T) {
	s := State{QualityScore: 0.5, Threshold: 0.7, Iter: 3, Issues: []Issue{{}, {}}, Functions: []string{"f"}}
	tests := map[string]float64{
		FieldQualityScore:  0.5,
		FieldThreshold:     0.7,
		FieldIteration:     3,
		FieldIssueCount:    2,
		FieldFunctionCount: 1,
	}
	for name, want := range tests {
		got, ok := s.Field(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := s.Field("code")
	assert.False(t, ok)

	next := s.WithIteration(9)
	assert.Equal(t, 9, next.Iteration())
	assert.Equal(t, 3, s.Iteration())
}

func TestStateUnmarshalDefaults(t *testing.T) {
	var s State
	require.NoError(t, json.Unmarshal([]byte(`{"code":"package x"}`), &s))
	assert.Equal(t, DefaultThreshold, s.Threshold)
	assert.Equal(t, "package x", s.Code)

	require.NoError(t, json.Unmarshal([]byte(`{"code":"package x","threshold":0.5,"iteration":2}`), &s))
	assert.Equal(t, 0.5, s.Threshold)
	assert.Equal(t, 2, s.Iter)
}

func newReviewEngine(t *testing.T) *workflow.Engine[State] {
	t.Helper()
	store := storage.NewMemoryStorage[State]()
	reg := workflow.NewRegistry[State]()
	require.NoError(t, Register(reg))
	engine, err := workflow.NewEngine[State](store, store, reg, workflow.WithLogger(logging.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Stop(context.Background()) })
	require.NoError(t, engine.CreateGraph(context.Background(), DefaultGraph()))
	return engine
}

func TestRegister(t *testing.T) {
	reg := workflow.NewRegistry[State]()
	require.NoError(t, Register(reg))
	assert.Equal(t, []string{OpCheckComplexity, OpDetectIssues, OpExtractFunctions, OpSuggest}, reg.Names())
	assert.NoError(t, workflow.ValidateGraph(DefaultGraph()))
}

func TestDefaultGraphRun(t *testing.T) {
	engine := newReviewEngine(t)
	ctx := context.Background()

	run, err := engine.StartRun(ctx, DefaultGraphID, NewState(cleanCode))
	require.NoError(t, err)
	assert.True(t, run.Finished)
	assert.Equal(t, "", run.CurrentNode)
	require.Len(t, run.Log, 4)
	assert.Equal(t, []string{"extract", "complexity", "issues", "suggest"},
		[]string{run.Log[0].Node, run.Log[1].Node, run.Log[2].Node, run.Log[3].Node})
	assert.Equal(t, 1.0, run.State.QualityScore)
	assert.Empty(t, run.Log[0].StateSnapshot.Complexity)
	assert.Equal(t, 1, run.Log[3].StateSnapshot.Iter)

	stored, err := engine.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.State, stored.State)
}

func TestSessionResubmission(t *testing.T) {
	engine := newReviewEngine(t)
	session := workflow.NewSession(engine, DefaultGraphID)
	ctx := context.Background()

	first, err := session.Submit(ctx, NewState(messyCode()))
	require.NoError(t, err)
	assert.False(t, first.State.Accepted())
	assert.Equal(t, 1, first.State.Iter)

	second, err := session.Submit(ctx, NewState(cleanCode))
	require.NoError(t, err)
	assert.True(t, second.State.Accepted())
	assert.Equal(t, 2, second.State.Iter)
	assert.Len(t, first.Log, 4)
	assert.Len(t, second.Log, 4)
	assert.Equal(t, []string{first.RunID, second.RunID}, session.RunIDs())
}
