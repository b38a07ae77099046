package utils

import (
	"errors"
	"fmt"
	"math"

	"github.com/chachabrian/bikeshare-backend/internal/models"
)

// MaxRentalDays bounds a single booking.
const MaxRentalDays = 90

var (
	ErrRentalTooLong    = errors.New("rental period too long")
	ErrAmountOutOfRange = errors.New("amount out of range")
)

// PriceBreakdown is the quote shown to the rider when a booking is created.
type PriceBreakdown struct {
	Days         int64 `json:"days"`
	DailyRate    int64 `json:"dailyRate"`
	RentalAmount int64 `json:"rentalAmount"`
	DeliveryFee  int64 `json:"deliveryFee"`
	Total        int64 `json:"total"`
}

// BookingPrice prices a rental: whole days times the bike's daily rate, plus
// the delivery fee when the rider asked for delivery. Amounts are minor
// currency units.
func BookingPrice(dates models.DateRange, bike *models.Bike, delivery bool) (PriceBreakdown, error) {
	days := dates.Days()
	if days > MaxRentalDays {
		return PriceBreakdown{}, fmt.Errorf("%w: %d days, at most %d", ErrRentalTooLong, days, MaxRentalDays)
	}
	rental, ok := mulAmount(days, bike.PricePerDay)
	if !ok {
		return PriceBreakdown{}, fmt.Errorf("%w: %d days at %d", ErrAmountOutOfRange, days, bike.PricePerDay)
	}
	p := PriceBreakdown{
		Days:         days,
		DailyRate:    bike.PricePerDay,
		RentalAmount: rental,
	}
	if delivery {
		p.DeliveryFee = bike.DeliveryFee
	}
	total, ok := addAmount(p.RentalAmount, p.DeliveryFee)
	if !ok || total <= 0 {
		return PriceBreakdown{}, fmt.Errorf("%w: total %d", ErrAmountOutOfRange, total)
	}
	p.Total = total
	return p, nil
}

// InitialAmount is the share collected before pickup, rounded down.
func InitialAmount(total, percent int64) int64 {
	return total/100*percent + total%100*percent/100
}

// RemainingAmount is what is left to collect at drop-off, including any
// charges raised by the assessment. It must come out positive.
func RemainingAmount(total, initial, charges int64) (int64, error) {
	if initial < 0 || initial > total {
		return 0, fmt.Errorf("%w: initial %d of %d", ErrAmountOutOfRange, initial, total)
	}
	remaining, ok := addAmount(total-initial, charges)
	if !ok || remaining <= 0 {
		return 0, fmt.Errorf("%w: remaining amount", ErrAmountOutOfRange)
	}
	return remaining, nil
}

// mulAmount and addAmount work on non-negative amounts and report overflow.
func mulAmount(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

func addAmount(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
