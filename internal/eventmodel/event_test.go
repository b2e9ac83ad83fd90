package eventmodel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityFor(t *testing.T) {
	cases := []struct {
		t    EventType
		want Priority
	}{
		{EventPush, PriorityHigh},
		{EventDelete, PriorityHigh},
		{EventMember, PriorityHigh},
		{EventPullRequest, PriorityMedium},
		{EventFork, PriorityMedium},
		{EventWatch, PriorityLow},
		{EventUnknown, PriorityLow},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, PriorityFor(c.t), "type=%s", c.t)
	}
}

func TestEvent_JSONRoundTripPreservesTypedPayload(t *testing.T) {
	ev := Event{
		ID:         "e1",
		Type:       EventPush,
		Actor:      Actor{ID: 1, Login: "octocat"},
		Repository: Repository{ID: 2, FullName: "octo/repo"},
		Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Priority:   PriorityHigh,
		Payload: PayloadPush{
			Ref:     "refs/heads/main",
			Forced:  true,
			Commits: []CommitRef{{SHA: "abc", Message: "m"}},
		},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var out Event
	require.NoError(t, json.Unmarshal(data, &out))

	require.IsType(t, PayloadPush{}, out.Payload)
	push := out.Payload.(PayloadPush)
	assert.Equal(t, "refs/heads/main", push.Ref)
	assert.True(t, push.Forced)
	require.Len(t, push.Commits, 1)
	assert.Equal(t, "abc", push.Commits[0].SHA)
}

func TestEvent_JSONRoundTripUnknownTypeFallsBackToOpaque(t *testing.T) {
	raw := []byte(`{"id":"e2","type":"GollumEvent","actor":{"id":1},"repository":{"id":2},"timestamp":"2026-01-01T00:00:00Z","payload":{"pages":[{"title":"x"}]}}`)

	var out Event
	require.NoError(t, json.Unmarshal(raw, &out))

	require.IsType(t, PayloadOpaque{}, out.Payload)
	opaque := out.Payload.(PayloadOpaque)
	assert.Contains(t, string(opaque.Raw), "pages")
}

func TestEvent_JSONRoundTripNilPayload(t *testing.T) {
	ev := Event{ID: "e3", Type: EventWatch, Payload: PayloadWatch{Action: "started"}}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var out Event
	require.NoError(t, json.Unmarshal(data, &out))
	require.IsType(t, PayloadWatch{}, out.Payload)
	assert.Equal(t, "started", out.Payload.(PayloadWatch).Action)
}
