package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/execshell"
	"github.com/moti-malka/gl2gh/internal/githubcli"
	"github.com/moti-malka/gl2gh/internal/gitlab"
	"github.com/moti-malka/gl2gh/internal/gitrepo"
	"github.com/moti-malka/gl2gh/internal/migration"
	"github.com/moti-malka/gl2gh/internal/orchestrator"
	"github.com/moti-malka/gl2gh/internal/pipeline"
	"github.com/moti-malka/gl2gh/internal/progress"
	"github.com/moti-malka/gl2gh/internal/stages"
	"github.com/moti-malka/gl2gh/internal/store"
	"github.com/moti-malka/gl2gh/internal/ui"
)

const (
	defaultHubBufferSizeConstant       = 64
	executorErrorTemplateConstant      = "unable to construct command executor: %w"
	gitHubClientErrorTemplateConstant  = "unable to construct GitHub client: %w"
	mirrorManagerErrorTemplateConstant = "unable to construct mirror manager: %w"
	handlersErrorTemplateConstant      = "unable to construct stage handlers: %w"
	storeErrorTemplateConstant         = "unable to open run store: %w"
	engineReadyMessageConstant         = "Migration engine ready"
	storeFieldConstant                 = "store"
	sourceFieldConstant                = "source"
	targetHostFieldConstant            = "target_host"
	memoryStoreLabelConstant           = "memory"
)

// Options configure Open.
type Options struct {
	Configuration        migration.RunConfiguration
	// DatabasePath selects the SQLite run store. Empty keeps runs in memory.
	DatabasePath         string
	Logger               *zap.Logger
	// HumanReadableLogging routes command events through the console logger and keeps
	// the executor's structured entries out of the console.
	HumanReadableLogging bool
	Publisher            progress.Publisher
	CommandRunner        execshell.CommandRunner
	HubBufferSize        int
	GitLabTimeout        time.Duration
	Clock                func() time.Time
}

// Engine is a wired migration pipeline.
type Engine struct {
	Repository store.RunRepository
	Hub        *progress.Hub
	GitLab     *gitlab.Client
	GitHub     *githubcli.Client
	Runs       *orchestrator.RunOrchestrator
	Batch      *orchestrator.BatchOrchestrator

	configuration migration.RunConfiguration
	closer        func() error
}

// Open wires every collaborator for the configuration.
func Open(options Options) (*Engine, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := options.Clock
	if clock == nil {
		clock = time.Now
	}
	configuration := options.Configuration.Sanitize()

	runner := options.CommandRunner
	if runner == nil {
		runner = execshell.NewOSCommandRunner()
	}
	executorLogger := logger
	var executorOptions []execshell.ExecutorOption
	if options.HumanReadableLogging {
		executorLogger = zap.NewNop()
		executorOptions = append(executorOptions, execshell.WithCommandEventObserver(ui.NewConsoleCommandEventLogger(logger)))
	}
	executor, executorError := execshell.NewShellExecutor(executorLogger, runner, executorOptions...)
	if executorError != nil {
		return nil, fmt.Errorf(executorErrorTemplateConstant, executorError)
	}

	gitHubClient, gitHubError := githubcli.NewClient(executor,
		githubcli.WithHostname(configuration.Target.Hostname),
		githubcli.WithToken(configuration.Target.Token),
		githubcli.WithClock(clock),
	)
	if gitHubError != nil {
		return nil, fmt.Errorf(gitHubClientErrorTemplateConstant, gitHubError)
	}
	mirrors, mirrorError := gitrepo.NewMirrorManager(executor)
	if mirrorError != nil {
		return nil, fmt.Errorf(mirrorManagerErrorTemplateConstant, mirrorError)
	}
	gitLabClient := gitlab.NewClient(gitlab.Configuration{
		BaseURL: configuration.Source.BaseURL,
		Token:   configuration.Source.Token,
		Timeout: options.GitLabTimeout,
	}, logger)

	handlers, handlersError := stages.NewHandlers(stages.Dependencies{
		GitLab:  gitLabClient,
		GitHub:  gitHubClient,
		Mirrors: mirrors,
		Clock:   clock,
	})
	if handlersError != nil {
		return nil, fmt.Errorf(handlersErrorTemplateConstant, handlersError)
	}

	repository, closer, storeLabel, storeError := openRepository(options.DatabasePath, logger)
	if storeError != nil {
		return nil, fmt.Errorf(storeErrorTemplateConstant, storeError)
	}

	bufferSize := options.HubBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultHubBufferSizeConstant
	}
	hub := progress.NewHub(logger, bufferSize)

	machine := pipeline.NewStateMachine(logger, handlers, pipeline.WithClock(clock))
	runs := orchestrator.NewRunOrchestrator(machine, repository, progress.Fanout(hub, options.Publisher), logger, orchestrator.WithRunClock(clock))

	logger.Debug(engineReadyMessageConstant,
		zap.String(storeFieldConstant, storeLabel),
		zap.String(sourceFieldConstant, configuration.Source.BaseURL),
		zap.String(targetHostFieldConstant, configuration.Target.Hostname),
	)
	return &Engine{
		Repository: repository,
		Hub:        hub,
		GitLab:     gitLabClient,
		GitHub:     gitHubClient,
		Runs:       runs,
		Batch:      orchestrator.NewBatchOrchestrator(runs, logger),

		configuration: configuration,
		closer:        closer,
	}, nil
}

// Configuration returns the sanitized configuration the engine was opened with.
func (engine *Engine) Configuration() migration.RunConfiguration {
	return engine.configuration.Clone()
}

// Close releases the run store.
func (engine *Engine) Close() error {
	if engine == nil || engine.closer == nil {
		return nil
	}
	return engine.closer()
}

func openRepository(databasePath string, logger *zap.Logger) (store.RunRepository, func() error, string, error) {
	if len(databasePath) == 0 {
		return store.NewMemoryRepository(), nil, memoryStoreLabelConstant, nil
	}
	repository, openError := store.OpenSQLite(databasePath, logger)
	if openError != nil {
		return nil, nil, "", openError
	}
	return repository, repository.Close, databasePath, nil
}
