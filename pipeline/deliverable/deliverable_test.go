package deliverable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFromString(t *testing.T) {
	s, err := StatusFromString("in_review")
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, s)

	_, err = StatusFromString("published")
	assert.Error(t, err)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusDraft.CanTransition(StatusInReview))
	assert.True(t, StatusDraft.CanTransition(StatusDraft))
	assert.True(t, StatusDraft.CanTransition(StatusEscalated))
	assert.True(t, StatusInReview.CanTransition(StatusApproved))
	assert.True(t, StatusInReview.CanTransition(StatusRejected))
	assert.True(t, StatusInReview.CanTransition(StatusDraft))
	assert.True(t, StatusRejected.CanTransition(StatusDraft))

	// Terminal states.
	assert.False(t, StatusApproved.CanTransition(StatusDraft))
	assert.False(t, StatusEscalated.CanTransition(StatusDraft))

	// Automation never jumps straight to approval.
	assert.False(t, StatusDraft.CanTransition(StatusApproved))
	assert.False(t, StatusRejected.CanTransition(StatusApproved))
}

func TestIsTerminalForAutomation(t *testing.T) {
	assert.True(t, StatusApproved.IsTerminalForAutomation())
	assert.True(t, StatusEscalated.IsTerminalForAutomation())
	assert.False(t, StatusDraft.IsTerminalForAutomation())
	assert.False(t, StatusInReview.IsTerminalForAutomation())
	assert.False(t, StatusRejected.IsTerminalForAutomation())
}

func TestKindFromString(t *testing.T) {
	k, err := KindFromString("email_sequence")
	require.NoError(t, err)
	assert.Equal(t, KindEmailSequence, k)

	_, err = KindFromString("press_release")
	assert.Error(t, err)
}

func TestNewDeliverable(t *testing.T) {
	d := New(KindArticle, "client-1")
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, StatusDraft, d.Status)
	assert.Equal(t, 0, d.IterationCount)
	assert.Empty(t, d.ScoreHistory)
	assert.Zero(t, d.CostAccumulated)
}

func TestLatestScore(t *testing.T) {
	d := New(KindArticle, "")
	assert.Nil(t, d.LatestScore())
	assert.Empty(t, d.LatestFeedback())

	d.ScoreHistory = append(d.ScoreHistory,
		ScoreEntry{Iteration: 0, CombinedScore: 5.2, Feedback: "first", Timestamp: time.Now()},
		ScoreEntry{Iteration: 1, CombinedScore: 7.4, Feedback: "second", Timestamp: time.Now()},
	)
	require.NotNil(t, d.LatestScore())
	assert.Equal(t, 7.4, d.LatestScore().CombinedScore)
	assert.Equal(t, "second", d.LatestFeedback())
}

func TestCloneIsDeep(t *testing.T) {
	d := New(KindArticle, "")
	d.ScoreHistory = []ScoreEntry{{Iteration: 0, CombinedScore: 6}}

	clone := d.Clone()
	clone.ScoreHistory[0].CombinedScore = 9
	clone.Status = StatusApproved

	assert.Equal(t, 6.0, d.ScoreHistory[0].CombinedScore)
	assert.Equal(t, StatusDraft, d.Status)
}
