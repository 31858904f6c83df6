package progress_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/progress"
	"github.com/moti-malka/gl2gh/internal/store"
)

var serverTestTime = time.Date(2026, time.May, 4, 12, 0, 0, 0, time.UTC)

func newServerFixture(t *testing.T) (*httptest.Server, *store.MemoryRepository, *progress.Hub, *migration.MigrationRun) {
	t.Helper()
	repository := store.NewMemoryRepository()
	hub := progress.NewHub(nil, 8)
	run := migration.NewMigrationRun(migration.RunModePlanOnly, migration.DefaultRunConfiguration(), serverTestTime)
	require.NoError(t, run.TransitionTo(migration.RunStatusQueued, serverTestTime))
	require.NoError(t, run.TransitionTo(migration.RunStatusRunning, serverTestTime))
	require.NoError(t, repository.SaveRun(context.Background(), run))
	require.NoError(t, repository.SaveProject(context.Background(), migration.NewRunProject(run.ID, migration.ProjectReference{GitLabProjectID: 7, PathWithNamespace: "group/app"})))

	httpServer := httptest.NewServer(progress.NewServer(repository, hub, nil))
	t.Cleanup(httpServer.Close)
	return httpServer, repository, hub, run
}

func TestServerJSONEndpoints(t *testing.T) {
	httpServer, repository, _, run := newServerFixture(t)
	require.NoError(t, repository.SaveSnapshot(context.Background(), store.Snapshot{
		RunID:      run.ID,
		Status:     migration.RunStatusRunning,
		Stage:      string(migration.StageExport),
		Stats:      migration.RunStats{APICalls: 9, Projects: 1},
		RecordedAt: serverTestTime,
	}))

	testCases := []struct {
		name           string
		path           string
		expectedStatus int
		expectedBody   string
	}{
		{name: "health", path: "/healthz", expectedStatus: http.StatusOK, expectedBody: `"status":"ok"`},
		{name: "runs", path: "/runs", expectedStatus: http.StatusOK, expectedBody: run.ID},
		{name: "run_detail", path: "/runs/" + run.ID, expectedStatus: http.StatusOK, expectedBody: `"path_with_namespace":"group/app"`},
		{name: "progress", path: "/runs/" + run.ID + "/progress", expectedStatus: http.StatusOK, expectedBody: `"api_calls":9`},
		{name: "unknown_run", path: "/runs/missing", expectedStatus: http.StatusNotFound, expectedBody: "run not found"},
		{name: "unknown_progress", path: "/runs/missing/progress", expectedStatus: http.StatusNotFound, expectedBody: "run not found"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance := testCase
		t.Run(fmt.Sprintf("%d_%s", testCaseIndex, testInstance.name), func(subtest *testing.T) {
			response, requestError := http.Get(httpServer.URL + testInstance.path)
			require.NoError(subtest, requestError)
			defer response.Body.Close()

			var decoded json.RawMessage
			require.NoError(subtest, json.NewDecoder(response.Body).Decode(&decoded))
			require.Equal(subtest, testInstance.expectedStatus, response.StatusCode)
			require.Contains(subtest, string(decoded), testInstance.expectedBody)
		})
	}
}

func TestServerStreamsUpdatesUntilTerminal(t *testing.T) {
	httpServer, _, hub, run := newServerFixture(t)
	streamURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/runs/" + run.ID + "/events"

	connection, _, dialError := websocket.DefaultDialer.Dial(streamURL, nil)
	require.NoError(t, dialError)
	defer connection.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(progress.Update{RunID: "other-run", Status: migration.RunStatusRunning})
	hub.Publish(progress.Update{RunID: run.ID, Status: migration.RunStatusRunning, Project: "group/app", ProjectStage: migration.StageDiscover, StageStatus: migration.StageStatusCompleted})
	hub.Publish(progress.Update{RunID: run.ID, Status: migration.RunStatusCompleted, Stats: migration.RunStats{Projects: 1}})

	var first progress.Update
	require.NoError(t, connection.ReadJSON(&first))
	require.Equal(t, run.ID, first.RunID)
	require.Equal(t, migration.StageStatusCompleted, first.StageStatus)

	var last progress.Update
	require.NoError(t, connection.ReadJSON(&last))
	require.Equal(t, migration.RunStatusCompleted, last.Status)

	_, _, closeError := connection.ReadMessage()
	require.True(t, websocket.IsCloseError(closeError, websocket.CloseNormalClosure))
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServerStreamClosesImmediatelyForFinishedRun(t *testing.T) {
	httpServer, repository, _, run := newServerFixture(t)
	require.NoError(t, run.TransitionTo(migration.RunStatusCompleted, serverTestTime))
	require.NoError(t, repository.SaveRun(context.Background(), run))

	connection, _, dialError := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http")+"/runs/"+run.ID+"/events", nil)
	require.NoError(t, dialError)
	defer connection.Close()

	_, _, closeError := connection.ReadMessage()
	require.True(t, websocket.IsCloseError(closeError, websocket.CloseNormalClosure))
}
