package models

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type ConditionPart string

const (
	PartFrame       ConditionPart = "frame"
	PartWheels      ConditionPart = "wheels"
	PartBrakes      ConditionPart = "brakes"
	PartDrivetrain  ConditionPart = "drivetrain"
	PartHandlebars  ConditionPart = "handlebars"
	PartSeat        ConditionPart = "seat"
	PartLights      ConditionPart = "lights"
	PartAccessories ConditionPart = "accessories"
)

// Checklist is the fixed set of parts every drop-off assessment rates.
var Checklist = []ConditionPart{
	PartFrame, PartWheels, PartBrakes, PartDrivetrain,
	PartHandlebars, PartSeat, PartLights, PartAccessories,
}

type ConditionRating string

const (
	RatingExcellent ConditionRating = "excellent"
	RatingGood      ConditionRating = "good"
	RatingFair      ConditionRating = "fair"
	RatingDamaged   ConditionRating = "damaged"
)

var ratingRank = map[ConditionRating]int{
	RatingDamaged:   0,
	RatingFair:      1,
	RatingGood:      2,
	RatingExcellent: 3,
}

// Rank orders ratings: excellent > good > fair > damaged. Unknown ratings rank -1.
func (r ConditionRating) Rank() int {
	if n, ok := ratingRank[r]; ok {
		return n
	}
	return -1
}

func (r ConditionRating) Valid() bool {
	return r.Rank() >= 0
}

type ChargeType string

const (
	ChargeDamage     ChargeType = "damage"
	ChargeCleaning   ChargeType = "cleaning"
	ChargeLateReturn ChargeType = "late_return"
	ChargeFuel       ChargeType = "fuel"
	ChargeOther      ChargeType = "other"
)

func (t ChargeType) Valid() bool {
	switch t {
	case ChargeDamage, ChargeCleaning, ChargeLateReturn, ChargeFuel, ChargeOther:
		return true
	}
	return false
}

type ConditionItem struct {
	Part   ConditionPart   `json:"part"`
	Rating ConditionRating `json:"rating"`
	Notes  string          `json:"notes,omitempty"`
}

type AdditionalCharge struct {
	Type        ChargeType `json:"type"`
	Description string     `json:"description"`
	Amount      int64      `json:"amount"`
}

// SumCharges adds up the charge amounts.
func SumCharges(charges []AdditionalCharge) int64 {
	var total int64
	for _, c := range charges {
		total += c.Amount
	}
	return total
}

var (
	ErrChecklistIncomplete = errors.New("every checklist part must be rated exactly once")
	ErrInvalidCharge       = errors.New("invalid additional charge")
)

// ValidateConditionItems requires one valid rating for each checklist part.
func ValidateConditionItems(items []ConditionItem) error {
	seen := make(map[ConditionPart]bool, len(Checklist))
	for _, part := range Checklist {
		seen[part] = false
	}
	for _, item := range items {
		rated, known := seen[item.Part]
		if !known || rated {
			return fmt.Errorf("%w: %q", ErrChecklistIncomplete, item.Part)
		}
		if !item.Rating.Valid() {
			return fmt.Errorf("invalid rating %q for %s", item.Rating, item.Part)
		}
		seen[item.Part] = true
	}
	for part, rated := range seen {
		if !rated {
			return fmt.Errorf("%w: %q missing", ErrChecklistIncomplete, part)
		}
	}
	return nil
}

// Limits on what one assessment may charge, in minor currency units.
const (
	MaxCharges       = 20
	MaxChargeAmount  = int64(5_000_000)
	MaxChargesAmount = int64(10_000_000)
)

func ValidateCharges(charges []AdditionalCharge) error {
	if len(charges) > MaxCharges {
		return fmt.Errorf("%w: %d charges, at most %d", ErrInvalidCharge, len(charges), MaxCharges)
	}
	var total int64
	for i, c := range charges {
		if !c.Type.Valid() {
			return fmt.Errorf("%w: charge %d has unknown type %q", ErrInvalidCharge, i, c.Type)
		}
		if c.Amount < 0 {
			return fmt.Errorf("%w: charge %d has negative amount", ErrInvalidCharge, i)
		}
		if c.Amount > MaxChargeAmount {
			return fmt.Errorf("%w: charge %d exceeds %d", ErrInvalidCharge, i, MaxChargeAmount)
		}
		total += c.Amount
	}
	if total > MaxChargesAmount {
		return fmt.Errorf("%w: charges total %d exceeds %d", ErrInvalidCharge, total, MaxChargesAmount)
	}
	return nil
}

// DropoffAssessment is kept for dispute resolution after the booking ends.
type DropoffAssessment struct {
	gorm.Model
	BookingID  uint               `json:"bookingId" gorm:"not null;uniqueIndex"`
	AssessorID uint               `json:"assessorId" gorm:"not null"`
	PartnerID  uint               `json:"partnerId" gorm:"not null"`
	Items      []ConditionItem    `json:"conditionItems" gorm:"serializer:json"`
	Charges    []AdditionalCharge `json:"additionalCharges" gorm:"serializer:json"`
	Notes      string             `json:"notes,omitempty"`
	Photos     []string           `json:"photos,omitempty" gorm:"serializer:json"`
	Revision   int                `json:"revision" gorm:"not null;default:1"`
}

// TableName specifies the table name
func (DropoffAssessment) TableName() string {
	return "dropoff_assessments"
}
