package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/moti-malka/gl2gh/internal/credentials"
	"github.com/moti-malka/gl2gh/internal/engine"
	"github.com/moti-malka/gl2gh/internal/execshell"
	"github.com/moti-malka/gl2gh/internal/progress"
	"github.com/moti-malka/gl2gh/internal/ui"
	"github.com/moti-malka/gl2gh/internal/utils"
)

const (
	jsonIndentConstant                    = "  "
	progressServerStartedMessageConstant  = "Progress server listening"
	progressServerFailedMessageConstant   = "Progress server stopped unexpectedly"
	progressServerAddressFieldConstant    = "address"
	progressServerShutdownTimeoutConstant = 5 * time.Second
)

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// Dependencies are the injectable collaborators shared by migrate and resume.
type Dependencies struct {
	LoggerProvider               LoggerProvider
	HumanReadableLoggingProvider func() bool
	ConfigurationProvider        func() CommandConfiguration
	// CommandRunner replaces the operating system runner for git and gh.
	CommandRunner                execshell.CommandRunner
	// Environment is consulted for tokens before the process environment.
	Environment                  map[string]string
}

func (dependencies Dependencies) resolveConfiguration() CommandConfiguration {
	if dependencies.ConfigurationProvider == nil {
		return DefaultCommandConfiguration().Sanitize()
	}
	return dependencies.ConfigurationProvider().Sanitize()
}

func (dependencies Dependencies) humanReadableLogging() bool {
	return dependencies.HumanReadableLoggingProvider != nil && dependencies.HumanReadableLoggingProvider()
}

func (dependencies Dependencies) openEngine(command *cobra.Command, configuration CommandConfiguration) (*engine.Engine, error) {
	return engine.Open(engine.Options{
		Configuration:        configuration.Migration,
		DatabasePath:         configuration.DatabasePath,
		Logger:               resolveLogger(dependencies.LoggerProvider),
		HumanReadableLogging: dependencies.humanReadableLogging(),
		Publisher:            ui.NewProgressReporter(command.ErrOrStderr()),
		CommandRunner:        dependencies.CommandRunner,
	})
}

func (dependencies Dependencies) applyCredentials(configuration CommandConfiguration) CommandConfiguration {
	configuration.Migration = credentials.NewResolver(dependencies.Environment).Apply(configuration.Migration)
	return configuration
}

func resolveLogger(provider LoggerProvider) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func writeJSON(writer io.Writer, value any) error {
	encoder := json.NewEncoder(utils.NewFlushingWriter(writer))
	encoder.SetIndent("", jsonIndentConstant)
	return encoder.Encode(value)
}

// startProgressServer serves the progress API until the returned stop function runs.
// An empty address starts nothing.
func startProgressServer(address string, migrationEngine *engine.Engine, logger *zap.Logger) (func(), error) {
	if len(address) == 0 {
		return func() {}, nil
	}
	listener, listenError := net.Listen("tcp", address)
	if listenError != nil {
		return nil, listenError
	}
	server := &http.Server{
		Handler:           progress.NewServer(migrationEngine.Repository, migrationEngine.Hub, logger),
		ReadHeaderTimeout: progressServerShutdownTimeoutConstant,
	}
	go func() {
		if serveError := server.Serve(listener); serveError != nil && !errors.Is(serveError, http.ErrServerClosed) {
			logger.Warn(progressServerFailedMessageConstant, zap.Error(serveError))
		}
	}()
	logger.Info(progressServerStartedMessageConstant, zap.String(progressServerAddressFieldConstant, listener.Addr().String()))

	return func() {
		shutdownContext, cancel := context.WithTimeout(context.Background(), progressServerShutdownTimeoutConstant)
		defer cancel()
		_ = server.Shutdown(shutdownContext)
	}, nil
}
