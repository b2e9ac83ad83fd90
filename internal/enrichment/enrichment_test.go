package enrichment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octoanomaly/octoanomaly/internal/storage"
)

func TestGet_DefaultNoopSummarizerIsRegistered(t *testing.T) {
	s, err := Get("noop")
	require.NoError(t, err)
	assert.Equal(t, "noop", s.Name())
}

func TestGet_UnknownNameReturnsError(t *testing.T) {
	_, err := Get("does-not-exist")
	assert.Error(t, err)
}

func TestList_IncludesNoop(t *testing.T) {
	assert.Contains(t, List(), "noop")
}

type fakeSummarizer struct{ name string }

func (f *fakeSummarizer) Name() string { return f.name }
func (f *fakeSummarizer) Summarize(context.Context, storage.AnomalyRecord) (string, error) {
	return "fake summary", nil
}

func TestRegister_DuplicateNamePanics(t *testing.T) {
	assert.Panics(t, func() { Register(&noopSummarizer{}) })
}

func TestRegister_NewSummarizerIsRetrievable(t *testing.T) {
	Register(&fakeSummarizer{name: "fake-for-test"})
	s, err := Get("fake-for-test")
	require.NoError(t, err)
	summary, err := s.Summarize(context.Background(), storage.AnomalyRecord{})
	require.NoError(t, err)
	assert.Equal(t, "fake summary", summary)
}

func TestNoopSummarizer_ProducesDeterministicTemplatedSentence(t *testing.T) {
	s := &noopSummarizer{}
	rec := storage.AnomalyRecord{
		SeverityLevel:     storage.SeverityHigh,
		RepositoryName:    "octo/repo",
		UserLogin:         "octocat",
		EventType:         "PushEvent",
		FinalAnomalyScore: 0.7,
	}
	summary, err := s.Summarize(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "HIGH severity anomaly on octo/repo by octocat (PushEvent), score 0.70", summary)
}
