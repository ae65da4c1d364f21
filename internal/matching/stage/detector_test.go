package stage

import (
	"context"
	"testing"

	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relationshipEvent(t *testing.T, id string) models.ChangeEvent {
	t.Helper()
	ev, err := models.NewChangeEvent(models.TableRelationships, models.OpUpdate, id, nil, "y-1", "e-1")
	require.NoError(t, err)
	return ev
}

func requirementEvent(t *testing.T, req *models.StageRequirement) models.ChangeEvent {
	t.Helper()
	ev, err := models.NewChangeEvent(models.TableStageRequirements, models.OpUpdate, req.ID, req, "y-1", "e-1")
	require.NoError(t, err)
	ev.RelationshipID = req.RelationshipID
	return ev
}

func TestDetectorAdvancesOnRequirementEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	rel := f.seed(t, models.StageGettingToKnow, true)
	d := NewCompletionDetector(f.engine, logger.NewTestLogger(t))

	reqs, err := f.store.ListRequirements(ctx, rel.ID, models.StageGettingToKnow)
	require.NoError(t, err)

	sig, err := d.HandleEvent(ctx, requirementEvent(t, reqs[0]))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, SignalStageCompleted, sig.Kind)
	assert.Equal(t, models.StageGettingToKnow, sig.Stage)
	assert.Equal(t, models.StageTrialPeriod, sig.To)

	// the relationship-row update caused by the same advance
	sig, err = d.HandleEvent(ctx, relationshipEvent(t, rel.ID))
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Len(t, f.notifier.ofType(models.NotificationStageAdvanced), 2)
}

func TestDetectorAnnouncesUnclaimedAdvance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	rel := f.seed(t, models.StageGettingToKnow, true)

	// advance written by another process that never delivered its signal
	_, err := f.store.AdvanceStage(ctx, rel.ID, models.StageGettingToKnow, models.StageTrialPeriod, f.now, f.engine.Catalog().Seed(models.StageTrialPeriod))
	require.NoError(t, err)

	d := NewCompletionDetector(f.engine, logger.NewTestLogger(t))
	sig, err := d.HandleEvent(ctx, relationshipEvent(t, rel.ID))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, SignalStageCompleted, sig.Kind)
	assert.Equal(t, models.StageGettingToKnow, sig.Stage)

	sig, err = d.HandleEvent(ctx, relationshipEvent(t, rel.ID))
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestDetectorJourneyCompletionFiresOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	rel := f.seed(t, models.StageFamilyLife, true)
	d := NewCompletionDetector(f.engine, logger.NewTestLogger(t))

	sig, err := d.HandleEvent(ctx, relationshipEvent(t, rel.ID))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, SignalJourneyCompleted, sig.Kind)

	sig, err = d.HandleEvent(ctx, relationshipEvent(t, rel.ID))
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Len(t, f.notifier.ofType(models.NotificationJourneyComplete), 2)
}

func TestDetectorNeverFiresBothForOneEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	rel := f.seed(t, models.StageOfficialCeremony, true)

	seeded := f.engine.Catalog().Seed(models.StageFamilyLife)
	_, err := f.store.AdvanceStage(ctx, rel.ID, models.StageOfficialCeremony, models.StageFamilyLife, f.now, seeded)
	require.NoError(t, err)
	for _, m := range []models.Metric{models.MetricMeetings, models.MetricActiveDays} {
		_, err := f.store.IncrementMetric(ctx, rel.ID, m, 100)
		require.NoError(t, err)
	}

	d := NewCompletionDetector(f.engine, logger.NewTestLogger(t))
	sig, err := d.HandleEvent(ctx, relationshipEvent(t, rel.ID))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, SignalStageCompleted, sig.Kind)
	assert.Empty(t, f.notifier.ofType(models.NotificationJourneyComplete))

	sig, err = d.HandleEvent(ctx, relationshipEvent(t, rel.ID))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, SignalJourneyCompleted, sig.Kind)
}

func TestDetectorIgnoresUnrelatedEvents(t *testing.T) {
	f := newFixture(t, nil)
	d := NewCompletionDetector(f.engine, logger.NewTestLogger(t))

	ev, err := models.NewChangeEvent(models.TableInterests, models.OpInsert, "i-1", nil, "y-1")
	require.NoError(t, err)
	sig, err := d.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Nil(t, sig)

	sig, err = d.HandleEvent(context.Background(), relationshipEvent(t, "gone"))
	require.NoError(t, err)
	assert.Nil(t, sig)
}
