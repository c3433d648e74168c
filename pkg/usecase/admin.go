package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/interfaces"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/utils/logging"
)

const reconnectSuggestion = "Check that the database is reachable and the credentials are valid, then retry."

type AdminUseCase struct {
	repo interfaces.Repository
}

func NewAdminUseCase(repo interfaces.Repository) *AdminUseCase {
	return &AdminUseCase{repo: repo}
}

// HealthStatus reports database reachability
type HealthStatus struct {
	Healthy  bool                 `json:"healthy"`
	Database model.DatabaseStatus `json:"database"`
}

// ReconnectResult reports a forced reconnect. Failures are reported here, not as errors.
type ReconnectResult struct {
	Success    bool   `json:"success"`
	Healthy    bool   `json:"connection_healthy"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (uc *AdminUseCase) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if uc.repo == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "repository is not configured")
	}

	healthy := uc.repo.HealthCheck(ctx)
	return &HealthStatus{
		Healthy:  healthy,
		Database: uc.repo.Status(),
	}, nil
}

// ForceReconnect rebuilds the connection pool and checks it
func (uc *AdminUseCase) ForceReconnect(ctx context.Context) (*ReconnectResult, error) {
	if uc.repo == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "repository is not configured")
	}

	logger := logging.From(ctx)
	if err := uc.repo.Reconnect(ctx); err != nil {
		logger.Error("forced reconnect failed", "error", err)
		return &ReconnectResult{
			Success:    false,
			Healthy:    false,
			Message:    "reconnect failed: " + err.Error(),
			Suggestion: reconnectSuggestion,
		}, nil
	}

	healthy := uc.repo.HealthCheck(ctx)
	result := &ReconnectResult{
		Success: healthy,
		Healthy: healthy,
		Message: "database connection re-established",
	}
	if !healthy {
		result.Message = "reconnected but health check failed"
		result.Suggestion = reconnectSuggestion
	}
	logger.Info("forced reconnect finished", "healthy", healthy)
	return result, nil
}
