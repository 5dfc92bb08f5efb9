package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexmarketing/contentpipeline/pipeline/audit"
	"github.com/apexmarketing/contentpipeline/pipeline/deliverable"
)

// combined is what both backends implement.
type combined interface {
	deliverable.Store
	audit.RunStore
}

func backends(t *testing.T) map[string]combined {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]combined{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestDeliverableRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := deliverable.New(deliverable.KindArticle, "client-1")
			d.Title = "Q3 thought leadership piece"
			d.Body = "draft body"
			d.ScoreHistory = []deliverable.ScoreEntry{{
				Iteration: 0, BrandVoiceScore: 8, QualityScore: 6,
				CombinedScore: 6.8, Feedback: "needs a stronger close",
				Timestamp: time.Now().UTC().Truncate(time.Second),
			}}
			d.Versions = []deliverable.VersionEntry{{
				Iteration: 0, BodyExcerpt: "old body", Feedback: "fb",
				Timestamp: time.Now().UTC().Truncate(time.Second),
			}}
			d.CostAccumulated = 0.42

			require.NoError(t, s.CreateDeliverable(ctx, d))

			got, err := s.GetDeliverable(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, d.Title, got.Title)
			assert.Equal(t, d.Kind, got.Kind)
			assert.Equal(t, d.Body, got.Body)
			assert.Equal(t, d.CostAccumulated, got.CostAccumulated)
			require.Len(t, got.ScoreHistory, 1)
			assert.Equal(t, 6.8, got.ScoreHistory[0].CombinedScore)
			require.Len(t, got.Versions, 1)
			assert.Equal(t, "old body", got.Versions[0].BodyExcerpt)
		})
	}
}

func TestGetMissingDeliverable(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetDeliverable(context.Background(), "no-such-id")
			assert.ErrorIs(t, err, deliverable.ErrNotFound)
		})
	}
}

func TestUpdateDeliverable(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := deliverable.New(deliverable.KindBlogPost, "client-1")
			require.NoError(t, s.CreateDeliverable(ctx, d))

			d.Body = "generated"
			d.Status = deliverable.StatusInReview
			d.IterationCount = 2
			require.NoError(t, s.UpdateDeliverable(ctx, d))

			got, err := s.GetDeliverable(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, "generated", got.Body)
			assert.Equal(t, deliverable.StatusInReview, got.Status)
			assert.Equal(t, 2, got.IterationCount)

			missing := deliverable.New(deliverable.KindBlogPost, "")
			assert.ErrorIs(t, s.UpdateDeliverable(ctx, missing), deliverable.ErrNotFound)
		})
	}
}

func TestUpdateStatusesAtomic(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var ids []string
			for i := 0; i < 3; i++ {
				d := deliverable.New(deliverable.KindAuditReport, "client-1")
				require.NoError(t, s.CreateDeliverable(ctx, d))
				ids = append(ids, d.ID)
			}

			require.NoError(t, s.UpdateStatuses(ctx, ids, deliverable.StatusInReview))
			for _, id := range ids {
				got, err := s.GetDeliverable(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, deliverable.StatusInReview, got.Status)
			}

			// A missing id fails the whole batch and rolls everything back.
			err := s.UpdateStatuses(ctx, append(ids, "ghost"), deliverable.StatusDraft)
			require.Error(t, err)
			for _, id := range ids {
				got, err := s.GetDeliverable(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, deliverable.StatusInReview, got.Status, "partial batch must not apply")
			}
		})
	}
}

func TestUsageRecords(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.AppendUsage(ctx, deliverable.UsageRecord{
				ID: "u-1", DeliverableID: "d-1", AgentName: "content_engine",
				Model: "m", InputTokens: 100, OutputTokens: 200, Cost: 0.01,
				CreatedAt: time.Now().UTC(),
			})
			assert.NoError(t, err)
		})
	}
}

func TestAuditRunRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := audit.NewRun("client-1", "profile text")
			require.NoError(t, s.CreateRun(ctx, run))

			got, err := s.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, audit.RunPending, got.State)
			assert.Equal(t, "profile text", got.ClientProfile)
			require.Len(t, got.Stages, 4)
			assert.Equal(t, audit.StageAudit, got.Stages[0].Stage)
			assert.Equal(t, audit.StageQualityGate, got.Stages[3].Stage)

			now := time.Now().UTC().Truncate(time.Second)
			got.State = audit.RunRunning
			got.Stages[0].DeliverableID = "d-1"
			got.Stages[0].CompletedAt = &now
			got.GateScore = 7.3
			require.NoError(t, s.UpdateRun(ctx, got))

			again, err := s.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, audit.RunRunning, again.State)
			assert.Equal(t, 7.3, again.GateScore)
			assert.Equal(t, "d-1", again.Stages[0].DeliverableID)
			require.NotNil(t, again.Stages[0].CompletedAt)

			_, err = s.GetRun(ctx, "ghost")
			assert.ErrorIs(t, err, audit.ErrRunNotFound)
		})
	}
}
