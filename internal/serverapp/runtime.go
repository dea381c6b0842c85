package serverapp

import (
	"fmt"
	"log/slog"
	"os"
)

// Start launches the HTTP listener goroutine. Init must have completed;
// calling Start again returns the existing error channel.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	if a.started {
		return a.serverErrors, nil
	}

	a.serverErrors = startServer(a.cfg, a.logger, a.srv, a.serverAddr)
	a.started = true
	return a.serverErrors, nil
}

func serverStopReason(err error) (string, error) {
	if err == nil {
		return "server_error", fmt.Errorf("server stopped unexpectedly")
	}
	return "server_error", fmt.Errorf("server failed: %w", err)
}

func (a *App) signalStopReason(sig os.Signal) (string, error) {
	if a.logger != nil {
		a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	}
	return "signal", nil
}

// WaitForStop blocks until an OS signal arrives or the server fails. A nil
// serverErrors falls back to the channel Start produced.
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (string, error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}

	switch {
	case stop == nil && serverErrors == nil:
		return "", fmt.Errorf("both stop and serverErrors channels are nil")
	case stop == nil:
		return serverStopReason(<-serverErrors)
	case serverErrors == nil:
		return a.signalStopReason(<-stop)
	}

	select {
	case err := <-serverErrors:
		return serverStopReason(err)
	case sig := <-stop:
		return a.signalStopReason(sig)
	}
}
