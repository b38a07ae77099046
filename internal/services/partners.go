package services

import (
	"context"
	"fmt"

	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// PartnerApprovals is the admin workflow over partner accounts:
// pending -> active | inactive, and active <-> inactive.
type PartnerApprovals struct {
	store  database.Store
	logger *logrus.Logger
}

func NewPartnerApprovals(store database.Store, logger *logrus.Logger) *PartnerApprovals {
	return &PartnerApprovals{store: store, logger: logger}
}

func (p *PartnerApprovals) Apply(ctx context.Context, actor Actor, partnerID uint, action models.PartnerAction, reason string) (*models.Partner, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("partner %s: %w", action, apperrors.ErrUnauthorized)
	}
	from, to, ok := action.Edge()
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", apperrors.ErrInvalidInput, action)
	}

	var partner *models.Partner
	err := p.store.Tx(ctx, func(tx database.Store) error {
		current, err := tx.GetPartner(ctx, partnerID)
		if err != nil {
			return err
		}
		if current.Status != from {
			return fmt.Errorf("partner %d is %s, cannot %s: %w", partnerID, current.Status, action, apperrors.ErrStaleState)
		}
		if err := tx.UpdatePartnerStatus(ctx, partnerID, from, to, reason); err != nil {
			return err
		}
		current.Status, current.StatusReason = to, reason
		partner = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"partnerId": partnerID,
		"action":    action,
		"status":    to,
		"adminId":   actor.UserID,
	}).Info("partner status changed")
	return partner, nil
}

func (p *PartnerApprovals) List(ctx context.Context, actor Actor, status models.PartnerStatus) ([]models.Partner, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.ErrUnauthorized
	}
	return p.store.ListPartners(ctx, status)
}
