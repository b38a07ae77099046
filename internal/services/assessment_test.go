package services

import (
	"fmt"
	"testing"

	"github.com/chachabrian/bikeshare-backend/internal/apperrors"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAssessmentValidation(t *testing.T) {
	f := newFixture(t)
	b := f.active(t)

	tooMany := make([]string, maxAssessmentPhotos+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("https://cdn.example.com/%d.jpg", i)
	}

	cases := []struct {
		name string
		in   AssessmentInput
	}{
		{"missing part", AssessmentInput{Items: goodCondition()[1:]}},
		{"duplicate part", AssessmentInput{Items: append(goodCondition(), models.ConditionItem{Part: models.PartFrame, Rating: models.RatingFair})}},
		{"unknown rating", AssessmentInput{Items: append(goodCondition()[1:], models.ConditionItem{Part: models.PartFrame, Rating: "shiny"})}},
		{"negative charge", AssessmentInput{Items: goodCondition(), Charges: []models.AdditionalCharge{{Type: models.ChargeDamage, Amount: -1}}}},
		{"unknown charge type", AssessmentInput{Items: goodCondition(), Charges: []models.AdditionalCharge{{Type: "parking", Amount: 10}}}},
		{"charge over cap", AssessmentInput{Items: goodCondition(), Charges: []models.AdditionalCharge{{Type: models.ChargeDamage, Amount: models.MaxChargeAmount + 1}}}},
		{"charges total over cap", AssessmentInput{Items: goodCondition(), Charges: []models.AdditionalCharge{
			{Type: models.ChargeDamage, Amount: models.MaxChargeAmount},
			{Type: models.ChargeDamage, Amount: models.MaxChargeAmount},
			{Type: models.ChargeLateReturn, Amount: 1},
		}}},
		{"too many charges", AssessmentInput{Items: goodCondition(), Charges: make([]models.AdditionalCharge, models.MaxCharges+1)}},
		{"too many photos", AssessmentInput{Items: goodCondition(), Photos: tooMany}},
		{"photo is not a URL", AssessmentInput{Items: goodCondition(), Photos: []string{"/tmp/a.jpg"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.assess.Submit(f.ctx, f.dropoff, b.ID, tc.in)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestSubmitAssessmentAuthority(t *testing.T) {
	f := newFixture(t)
	b := f.active(t)

	for _, actor := range []Actor{f.rider, f.pickup, f.admin} {
		_, err := f.assess.Submit(f.ctx, actor, b.ID, AssessmentInput{Items: goodCondition()})
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	}

	confirmed := f.request(t, f.rider, 10, 2)
	f.accept(t, confirmed.ID)
	_, err := f.assess.Submit(f.ctx, f.dropoff, confirmed.ID, AssessmentInput{Items: goodCondition()})
	assert.ErrorIs(t, err, apperrors.ErrStaleState)
}

func TestSubmitAssessmentNotifiesRider(t *testing.T) {
	f := newFixture(t)
	b := f.active(t)

	record, err := f.assess.Submit(f.ctx, f.dropoff, b.ID, AssessmentInput{
		Items:   goodCondition(),
		Charges: []models.AdditionalCharge{{Type: models.ChargeLateReturn, Description: "two hours late", Amount: 150}},
		Notes:   "  scratched fender  ",
		Photos:  []string{"https://cdn.example.com/fender.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, record.Revision)
	assert.Equal(t, "scratched fender", record.Notes)
	assert.Equal(t, f.dropoff.UserID, record.AssessorID)
	assert.Equal(t, f.dropoffPartner.ID, record.PartnerID)

	inbox := f.inbox(t, f.rider)
	last := inbox[len(inbox)-1]
	assert.Equal(t, models.EventBookingUpdated, last.Type)
	assert.Equal(t, int64(150), last.Payload.Amount)

	got, err := f.assess.Get(f.ctx, f.rider, b.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Charges, got.Charges)
	_, err = f.assess.Get(f.ctx, f.rider2, b.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestResubmitVoidsPendingRemaining(t *testing.T) {
	f := newFixture(t)
	b := f.active(t)

	_, err := f.assess.Submit(f.ctx, f.dropoff, b.ID, AssessmentInput{Items: goodCondition()})
	require.NoError(t, err)
	first, err := f.payments.OpenRemaining(f.ctx, f.dropoff, b.ID, nil)
	require.NoError(t, err)

	charges := []models.AdditionalCharge{{Type: models.ChargeDamage, Description: "bent rim", Amount: 500}}
	record, err := f.assess.Submit(f.ctx, f.dropoff, b.ID, AssessmentInput{Items: goodCondition(), Charges: charges})
	require.NoError(t, err)
	assert.Equal(t, 2, record.Revision)

	voided, err := f.store.GetPaymentRequest(f.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, voided.Status)
	assert.Equal(t, "voided: assessment resubmitted", voided.FailureReason)

	second, err := f.payments.OpenRemaining(f.ctx, f.dropoff, b.ID, charges)
	require.NoError(t, err)
	assert.Equal(t, int64(2900), second.Amount)
}

func TestResubmitBlockedOnceRemainingStarts(t *testing.T) {
	f := newFixture(t)
	b := f.active(t)
	_, err := f.assess.Submit(f.ctx, f.dropoff, b.ID, AssessmentInput{Items: goodCondition()})
	require.NoError(t, err)
	remaining, err := f.payments.OpenRemaining(f.ctx, f.dropoff, b.ID, nil)
	require.NoError(t, err)
	_, err = f.payments.BeginCardCheckout(f.ctx, f.rider, remaining.ID, models.MethodCard)
	require.NoError(t, err)

	_, err = f.assess.Submit(f.ctx, f.dropoff, b.ID, AssessmentInput{Items: goodCondition()})
	assert.ErrorIs(t, err, apperrors.ErrPaymentInFlight)

	got, err := f.store.GetAssessment(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Revision)
}
