package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/logger"
	"github.com/timmy/leadsync/internal/repository"
	"github.com/timmy/leadsync/internal/source"
)

// PageConfigManager is the subset of the page configuration repository used by PageService.
type PageConfigManager interface {
	Upsert(ctx context.Context, in repository.UpsertConfigInput) (*domain.PageSyncConfig, error)
	ListForUser(ctx context.Context, userID string) ([]domain.PageSyncConfig, error)
	SetAutoSync(ctx context.Context, id uint, userID string, enabled bool) error
	SetSyncInterval(ctx context.Context, id uint, userID string, minutes int) error
	GetForUser(ctx context.Context, id uint, userID string) (*domain.PageSyncConfig, error)
}

// PageSetupInput connects a page to a user.
type PageSetupInput struct {
	PageID          string `json:"pageId" validate:"required"`
	PageAccessToken string `json:"pageAccessToken" validate:"required"`
	PageName        string `json:"pageName" validate:"omitempty,max=200"`
	AutoSyncEnabled bool   `json:"autoSyncEnabled"`
	SyncInterval    int    `json:"syncInterval" validate:"omitempty,min=15,max=1440"`
}

// SetupResult is the outcome of SetupPage.
type SetupResult struct {
	Config              *domain.PageSyncConfig `json:"pageConfig"`
	InitialLeadsFetched int                    `json:"initialLeadsFetched"`
	InitialSyncError    string                 `json:"initialSyncError,omitempty"`
	Message             string                 `json:"message"`
}

// PageService manages the page configurations of a user.
type PageService struct {
	configs  PageConfigManager
	source   source.LeadSource
	sync     *AutoSyncService
	validate *validator.Validate

	defaultInterval int
}

// NewPageService creates a new PageService.
// Parameters:
//   - configs: page configuration store.
//   - src: lead source used to verify page tokens.
//   - sync: orchestrator that runs the initial sync.
//
// Returns:
//   - *PageService: initialized service.
func NewPageService(configs PageConfigManager, src source.LeadSource, sync *AutoSyncService) *PageService {
	return &PageService{
		configs:  configs,
		source:   src,
		sync:     sync,
		validate: newValidator(),

		defaultInterval: domain.DefaultSyncIntervalMinutes,
	}
}

// WithDefaultInterval sets the interval used when setup omits one.
func (s *PageService) WithDefaultInterval(minutes int) *PageService {
	if domain.ValidSyncInterval(minutes) {
		s.defaultInterval = minutes
	}
	return s
}

// SetupPage verifies the page token, stores the configuration and pulls the
// page's current leads once. A failing initial pull is reported on the result
// and does not undo the setup.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owner of the configuration.
//   - in: page settings.
//
// Returns:
//   - *SetupResult: stored configuration and initial pull outcome.
//   - error: ErrValidation for bad input, ErrSourceUnavailable when the token is refused.
func (s *PageService) SetupPage(ctx context.Context, userID string, in PageSetupInput) (*SetupResult, error) {
	in.PageID = strings.TrimSpace(in.PageID)
	in.PageAccessToken = strings.TrimSpace(in.PageAccessToken)
	in.PageName = strings.TrimSpace(in.PageName)
	if err := validationError(s.validate.Struct(&in)); err != nil {
		return nil, err
	}
	if in.SyncInterval == 0 {
		in.SyncInterval = s.defaultInterval
	}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldUserID: userID,
		logger.FieldPageID: in.PageID,
	})

	page, err := s.source.GetPage(ctx, in.PageID, in.PageAccessToken)
	if err != nil {
		logger.CtxWarn(ctx, "Page token check failed: %v", err)
		return nil, fmt.Errorf("verify page: %w", err)
	}

	name := in.PageName
	if name == "" && page != nil {
		name = page.Name
	}
	var pageName *string
	if name != "" {
		pageName = &name
	}

	cfg, err := s.configs.Upsert(ctx, repository.UpsertConfigInput{
		UserID:          userID,
		PageID:          in.PageID,
		AccessToken:     in.PageAccessToken,
		PageName:        pageName,
		AutoSyncEnabled: in.AutoSyncEnabled,
		IntervalMinutes: in.SyncInterval,
	})
	if err != nil {
		return nil, err
	}

	result := &SetupResult{Config: cfg}
	initial, err := s.sync.SyncConfig(ctx, cfg.ID, userID)
	switch {
	case err != nil:
		result.InitialSyncError = err.Error()
	case initial.Outcome == OutcomeFailed:
		result.InitialSyncError = initial.Error
	default:
		result.InitialLeadsFetched = initial.LeadsFetched
	}
	if result.InitialSyncError != "" {
		logger.CtxWarn(ctx, "Initial sync failed: %s", result.InitialSyncError)
	}

	// Reload so the returned config reflects the initial sync.
	if fresh, err := s.configs.GetForUser(ctx, cfg.ID, userID); err == nil {
		result.Config = fresh
	}

	state := "disabled"
	if in.AutoSyncEnabled {
		state = "enabled"
	}
	result.Message = fmt.Sprintf("Facebook page setup completed! Auto-sync %s. Fetched %d initial leads.", state, result.InitialLeadsFetched)

	logger.With(logger.Fields{"auto_sync": in.AutoSyncEnabled}).
		WithCount(result.InitialLeadsFetched).
		Info(ctx, "Page setup completed")
	return result, nil
}

// ListPages returns the configurations owned by userID, newest first.
func (s *PageService) ListPages(ctx context.Context, userID string) ([]domain.PageSyncConfig, error) {
	return s.configs.ListForUser(ctx, userID)
}

// SetAutoSync turns scheduled syncing of a configuration on or off and returns the updated row.
func (s *PageService) SetAutoSync(ctx context.Context, configID uint, userID string, enabled bool) (*domain.PageSyncConfig, error) {
	if err := s.configs.SetAutoSync(ctx, configID, userID, enabled); err != nil {
		return nil, err
	}
	return s.configs.GetForUser(ctx, configID, userID)
}

// SetSyncInterval changes how often a configuration is synced and returns the updated row.
func (s *PageService) SetSyncInterval(ctx context.Context, configID uint, userID string, minutes int) (*domain.PageSyncConfig, error) {
	if err := s.configs.SetSyncInterval(ctx, configID, userID, minutes); err != nil {
		return nil, err
	}
	return s.configs.GetForUser(ctx, configID, userID)
}
