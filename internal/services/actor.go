package services

import (
	"github.com/chachabrian/bikeshare-backend/internal/models"
)

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	UserID    uint
	Role      models.UserRole
	PartnerID *uint
}

// ActsFor reports whether the actor is a member of the given partner.
func (a Actor) ActsFor(partnerID uint) bool {
	return a.Role == models.RolePartner && a.PartnerID != nil && *a.PartnerID == partnerID
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// CanView reports whether the actor may read the booking.
func (a Actor) CanView(b *models.Booking) bool {
	if a.IsAdmin() {
		return true
	}
	if a.Role == models.RoleRider {
		return b.RiderID == a.UserID
	}
	return a.ActsFor(b.PickupPartnerID) || a.ActsFor(b.DropoffPartnerID)
}
