package progress

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/store"
)

const (
	healthPathConstant             = "/healthz"
	runsPathConstant               = "/runs"
	runPathConstant                = "/runs/{runID}"
	progressPathConstant           = "/runs/{runID}/progress"
	eventsPathConstant             = "/runs/{runID}/events"
	runIDParameterConstant         = "runID"
	contentTypeHeaderConstant      = "Content-Type"
	jsonContentTypeConstant        = "application/json"
	healthyStatusConstant          = "ok"
	runNotFoundMessageConstant     = "run not found"
	errorFieldConstant             = "error"
	statusFieldConstant            = "status"
	requestServedMessageConstant   = "Progress request served"
	requestFailedMessageConstant   = "Progress request failed"
	websocketFailedMessageConstant = "Progress stream upgrade failed"
	methodFieldConstant            = "method"
	pathFieldConstant              = "path"
	statusCodeFieldConstant        = "status_code"
	durationFieldConstant          = "duration"
	websocketWriteWaitConstant     = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// RunDetail is the response body of the run endpoint.
type RunDetail struct {
	Run      *migration.MigrationRun `json:"run"`
	Projects []*migration.RunProject `json:"projects"`
}

type server struct {
	repository store.RunRepository
	hub        *Hub
	logger     *zap.Logger
}

// NewServer builds the read-only progress router over the repository and hub.
func NewServer(repository store.RunRepository, hub *Hub, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	progressServer := &server{repository: repository, hub: hub, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(progressServer.logRequests)

	router.Get(healthPathConstant, progressServer.health)
	router.Get(runsPathConstant, progressServer.listRuns)
	router.Get(runPathConstant, progressServer.getRun)
	router.Get(progressPathConstant, progressServer.latestProgress)
	router.Get(eventsPathConstant, progressServer.streamEvents)
	return router
}

func (progressServer *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		wrappedWriter := middleware.NewWrapResponseWriter(responseWriter, request.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(wrappedWriter, request)
		progressServer.logger.Debug(requestServedMessageConstant,
			zap.String(methodFieldConstant, request.Method),
			zap.String(pathFieldConstant, request.URL.Path),
			zap.Int(statusCodeFieldConstant, wrappedWriter.Status()),
			zap.Duration(durationFieldConstant, time.Since(startedAt)),
		)
	})
}

func (progressServer *server) health(responseWriter http.ResponseWriter, _ *http.Request) {
	writeJSON(responseWriter, http.StatusOK, map[string]string{statusFieldConstant: healthyStatusConstant})
}

func (progressServer *server) listRuns(responseWriter http.ResponseWriter, request *http.Request) {
	runs, listError := progressServer.repository.ListRuns(request.Context())
	if listError != nil {
		progressServer.writeFailure(responseWriter, listError)
		return
	}
	writeJSON(responseWriter, http.StatusOK, runs)
}

func (progressServer *server) getRun(responseWriter http.ResponseWriter, request *http.Request) {
	runID := chi.URLParam(request, runIDParameterConstant)
	run, loadError := progressServer.repository.LoadRun(request.Context(), runID)
	if loadError != nil {
		progressServer.writeFailure(responseWriter, loadError)
		return
	}
	projects, projectsError := progressServer.repository.LoadProjects(request.Context(), runID)
	if projectsError != nil {
		progressServer.writeFailure(responseWriter, projectsError)
		return
	}
	writeJSON(responseWriter, http.StatusOK, RunDetail{Run: run, Projects: projects})
}

func (progressServer *server) latestProgress(responseWriter http.ResponseWriter, request *http.Request) {
	snapshot, snapshotError := progressServer.repository.LatestSnapshot(request.Context(), chi.URLParam(request, runIDParameterConstant))
	if snapshotError != nil {
		progressServer.writeFailure(responseWriter, snapshotError)
		return
	}
	writeJSON(responseWriter, http.StatusOK, snapshot)
}

// streamEvents sends every update of the run as a JSON text message and closes the
// connection normally once the run reaches a terminal status.
func (progressServer *server) streamEvents(responseWriter http.ResponseWriter, request *http.Request) {
	runID := chi.URLParam(request, runIDParameterConstant)
	run, loadError := progressServer.repository.LoadRun(request.Context(), runID)
	if loadError != nil {
		progressServer.writeFailure(responseWriter, loadError)
		return
	}

	updates, unsubscribe := progressServer.hub.Subscribe(runID)
	defer unsubscribe()

	connection, upgradeError := upgrader.Upgrade(responseWriter, request, nil)
	if upgradeError != nil {
		progressServer.logger.Debug(websocketFailedMessageConstant, zap.String(runIDFieldConstant, runID), zap.Error(upgradeError))
		return
	}
	defer connection.Close()

	if run.Status.Terminal() {
		closeStream(connection, string(run.Status))
		return
	}

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, readError := connection.ReadMessage(); readError != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case <-request.Context().Done():
			return
		case update, open := <-updates:
			if !open {
				return
			}
			_ = connection.SetWriteDeadline(time.Now().Add(websocketWriteWaitConstant))
			if writeError := connection.WriteJSON(update); writeError != nil {
				return
			}
			if update.Terminal() {
				closeStream(connection, string(update.Status))
				return
			}
		}
	}
}

func (progressServer *server) writeFailure(responseWriter http.ResponseWriter, failure error) {
	if errors.Is(failure, store.ErrRunNotFound) {
		writeJSON(responseWriter, http.StatusNotFound, map[string]string{errorFieldConstant: runNotFoundMessageConstant})
		return
	}
	progressServer.logger.Warn(requestFailedMessageConstant, zap.Error(failure))
	writeJSON(responseWriter, http.StatusInternalServerError, map[string]string{errorFieldConstant: failure.Error()})
}

func closeStream(connection *websocket.Conn, reason string) {
	_ = connection.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), time.Now().Add(websocketWriteWaitConstant))
}

func writeJSON(responseWriter http.ResponseWriter, statusCode int, payload any) {
	responseWriter.Header().Set(contentTypeHeaderConstant, jsonContentTypeConstant)
	responseWriter.WriteHeader(statusCode)
	_ = json.NewEncoder(responseWriter).Encode(payload)
}
