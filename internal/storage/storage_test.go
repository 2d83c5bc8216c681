package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetrics/telemetrics/internal/model"
	"github.com/telemetrics/telemetrics/internal/storage"
	"github.com/telemetrics/telemetrics/internal/testutil"
	"github.com/telemetrics/telemetrics/migrations"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

// uniqueGP keeps tests independent while sharing one database.
func uniqueGP(t *testing.T) string {
	return t.Name() + " " + uuid.NewString()[:8]
}

func TestMigrationsAreIdempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}

func TestUpsertReplacesPayload(t *testing.T) {
	ctx := context.Background()
	key := model.DocumentKey{Year: 2024, GrandPrix: uniqueGP(t), Session: "Race", DataType: model.DataPodium}

	require.NoError(t, testDB.UpsertDocument(ctx, key, []byte(`[{"Position":1}]`)))
	first, err := testDB.GetDocument(ctx, key)
	require.NoError(t, err)

	require.NoError(t, testDB.UpsertDocument(ctx, key, []byte(`[{"Position":2}]`)))
	second, err := testDB.GetDocument(ctx, key)
	require.NoError(t, err)

	assert.JSONEq(t, `[{"Position":2}]`, string(second.Payload))
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))

	docs, err := testDB.QueryDocuments(ctx, model.DocumentFilter{GrandPrix: key.GrandPrix})
	require.NoError(t, err)
	assert.Len(t, docs, 1, "same composite key never duplicates")
}

func TestUpsertRejectsInvalidJSON(t *testing.T) {
	key := model.DocumentKey{Year: 2024, GrandPrix: uniqueGP(t), Session: "Race", DataType: model.DataTyres}
	assert.Error(t, testDB.UpsertDocument(context.Background(), key, []byte(`{not json`)))
}

func TestUpsertRejectsUnknownDataType(t *testing.T) {
	key := model.DocumentKey{Year: 2024, GrandPrix: uniqueGP(t), Session: "Race", DataType: "weather"}
	assert.Error(t, testDB.UpsertDocument(context.Background(), key, []byte(`[]`)))
}

func TestGetDocumentNotFound(t *testing.T) {
	_, err := testDB.GetDocument(context.Background(), model.DocumentKey{Year: 1950, GrandPrix: "nowhere", Session: "Race", DataType: model.DataPodium})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQueryDocumentsFilter(t *testing.T) {
	ctx := context.Background()
	gp := uniqueGP(t)
	for _, year := range []int{2022, 2023, 2024} {
		for _, session := range []string{"Qualifying", "Race"} {
			key := model.DocumentKey{Year: year, GrandPrix: gp, Session: session, DataType: model.DataSessionResults}
			require.NoError(t, testDB.UpsertDocument(ctx, key, []byte(fmt.Sprintf(`{"year":%d}`, year))))
		}
	}

	docs, err := testDB.QueryDocuments(ctx, model.DocumentFilter{
		FromYear: 2023, ToYear: 2024, GrandPrix: gp, Session: "Race", DataType: model.DataSessionResults,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 2023, docs[0].Year)
	assert.Equal(t, 2024, docs[1].Year)

	docs, err = testDB.QueryDocuments(ctx, model.DocumentFilter{Year: 2022, GrandPrix: gp})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestUpsertNotifiesListeners(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.Listen(ctx, storage.ChannelDocuments))

	key := model.DocumentKey{Year: 2024, GrandPrix: uniqueGP(t), Session: "Sprint", DataType: model.DataLapChart}
	require.NoError(t, testDB.UpsertDocument(ctx, key, []byte(`{"podium":[],"laps":[]}`)))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		channel, payload, err := testDB.WaitForNotification(waitCtx)
		require.NoError(t, err)
		assert.Equal(t, storage.ChannelDocuments, channel)

		var got model.DocumentKey
		require.NoError(t, json.Unmarshal([]byte(payload), &got))
		if got == key {
			return
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx, []int{2023, 2024}, "Monaco", "Race")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	stats := model.RunStats{TotalSessions: 4, SuccessfulSessions: 3, SkippedSessions: 1, TotalDataTypes: 21}
	require.NoError(t, testDB.CompleteRun(ctx, run.ID, model.RunStatusCompleted, stats))

	got, err := testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, stats, got.Stats)
	assert.Equal(t, []int{2023, 2024}, got.Years)
	require.NotNil(t, got.CompletedAt)

	// A completed run cannot be completed again.
	assert.Error(t, testDB.CompleteRun(ctx, run.ID, model.RunStatusInterrupted, stats))

	runs, err := testDB.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, runs)

	_, err = testDB.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
