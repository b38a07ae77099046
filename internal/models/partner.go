package models

import (
	"gorm.io/gorm"
)

type PartnerStatus string

const (
	PartnerPending  PartnerStatus = "pending"
	PartnerActive   PartnerStatus = "active"
	PartnerInactive PartnerStatus = "inactive"
)

// Partner is a rental business. Its status is governed by admin approval.
type Partner struct {
	gorm.Model
	OwnerUserID  uint          `json:"ownerUserId" gorm:"not null;index"`
	BusinessName string        `json:"businessName" gorm:"not null"`
	Location     string        `json:"location"`
	Status       PartnerStatus `json:"status" gorm:"not null;default:'pending'"`
	StatusReason string        `json:"statusReason,omitempty"`
}

// TableName specifies the table name
func (Partner) TableName() string {
	return "partners"
}

// PartnerAction is an admin operation on a partner account.
type PartnerAction string

const (
	PartnerApprove    PartnerAction = "approve"
	PartnerReject     PartnerAction = "reject"
	PartnerSuspend    PartnerAction = "suspend"
	PartnerReactivate PartnerAction = "reactivate"
)

type partnerEdge struct {
	from PartnerStatus
	to   PartnerStatus
}

var partnerEdges = map[PartnerAction]partnerEdge{
	PartnerApprove:    {PartnerPending, PartnerActive},
	PartnerReject:     {PartnerPending, PartnerInactive},
	PartnerSuspend:    {PartnerActive, PartnerInactive},
	PartnerReactivate: {PartnerInactive, PartnerActive},
}

// Edge returns the source and target status of an action.
func (a PartnerAction) Edge() (from, to PartnerStatus, ok bool) {
	e, ok := partnerEdges[a]
	return e.from, e.to, ok
}
