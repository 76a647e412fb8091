package waqf

import (
	"errors"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/distribution"
)

var (
	ErrPlanNotFound        = errors.New("plan not found")
	ErrDuplicatePlan       = errors.New("plan already exists")
	ErrPlanNotApproved     = errors.New("plan is not approved")
	ErrPlanFinalized       = errors.New("plan status is final")
	ErrBeneficiaryNotFound = errors.New("beneficiary not found")
	ErrJournalNotFound     = errors.New("journal entry not found")
	ErrInvalidTerms        = errors.New("invalid distribution terms")
)

// IsNotFound covers every lookup miss across the engine.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrBeneficiaryNotFound) ||
		errors.Is(err, ErrJournalNotFound) ||
		approval.IsNotFound(err)
}

// IsClientError reports errors caused by the request rather than the
// system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTerms) ||
		errors.Is(err, ErrPlanNotApproved) ||
		distribution.IsClientError(err) ||
		approval.IsClientError(err)
}
