package contrib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScorer struct {
	name  string
	score float64
	err   error
}

func (f *fakeScorer) Name() string { return f.name }

func (f *fakeScorer) Score(req ScoreRequest) (float64, error) {
	return f.score, f.err
}

func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]AnomalyScorer)
}

func TestRegisterAndGetScorer(t *testing.T) {
	resetRegistry()
	s := &fakeScorer{name: "fixed", score: 0.5}
	RegisterScorer(s)

	got, err := GetScorer("fixed")
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestGetScorer_UnknownReturnsError(t *testing.T) {
	resetRegistry()
	_, err := GetScorer("nope")
	assert.Error(t, err)
}

func TestRegisterScorer_DuplicatePanics(t *testing.T) {
	resetRegistry()
	RegisterScorer(&fakeScorer{name: "dup"})
	assert.Panics(t, func() {
		RegisterScorer(&fakeScorer{name: "dup"})
	})
}

func TestListScorers(t *testing.T) {
	resetRegistry()
	RegisterScorer(&fakeScorer{name: "a"})
	RegisterScorer(&fakeScorer{name: "b"})
	names := ListScorers()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
