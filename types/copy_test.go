package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type privateState struct {
	iter  int
	notes []string
}

func (s privateState) Iteration() int               { return s.iter }
func (s privateState) Field(string) (float64, bool) { return 0, false }

type copyingState struct {
	iter  int
	notes []string
}

func (s copyingState) Iteration() int               { return s.iter }
func (s copyingState) Field(string) (float64, bool) { return 0, false }
func (s copyingState) DeepCopy() interface{} {
	s.notes = append([]string(nil), s.notes...)
	return s
}

type inner struct{ hidden int }

type nestedState struct {
	At    time.Time
	Items []inner
}

type plainState struct {
	At    time.Time
	Tags  map[string][]string
	Child *plainState
}

func TestCheckCopyable(t *testing.T) {
	assert.NoError(t, CheckCopyable[plainState]())
	assert.NoError(t, CheckCopyable[copyingState]())
	assert.NoError(t, CheckCopyable[State]())

	err := CheckCopyable[privateState]()
	assert.ErrorIs(t, err, ErrStateNotCopyable)
	assert.ErrorContains(t, err, "privateState.iter")

	err = CheckCopyable[nestedState]()
	assert.ErrorIs(t, err, ErrStateNotCopyable)
	assert.ErrorContains(t, err, "inner.hidden")
}

func TestDeepCopy(t *testing.T) {
	orig := copyingState{iter: 3, notes: []string{"init"}}
	c := DeepCopy(orig)
	require.Equal(t, orig, c)
	c.notes[0] = "changed"
	assert.Equal(t, "init", orig.notes[0])

	p := plainState{Tags: map[string][]string{"a": {"x"}}, Child: &plainState{}}
	pc := DeepCopy(p)
	pc.Tags["a"][0] = "y"
	assert.Equal(t, "x", p.Tags["a"][0])
	assert.NotSame(t, p.Child, pc.Child)

	var nilState State
	assert.Nil(t, DeepCopy(nilState))

	var nilPtr *plainState
	assert.Nil(t, DeepCopy(nilPtr))
}
