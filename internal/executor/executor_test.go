package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/rpcclient"
)

func completePlan() *models.Plan {
	return &models.Plan{
		Version:      models.PlanVersion,
		Key:          "obl-1",
		RepayMint:    "mint-repay",
		SeizeMint:    "mint-seize",
		RepayReserve: "reserve-repay",
		SeizeReserve: "reserve-seize",
		AmountUi:     12.5,
	}
}

func TestValidatePlanAcceptsCurrentVersion(t *testing.T) {
	status, ok := ValidatePlan(completePlan())
	assert.True(t, ok)
	assert.Equal(t, Status(""), status)
}

func TestValidatePlanRejectsLegacyVersion(t *testing.T) {
	plan := completePlan()
	plan.Version = 1
	status, ok := ValidatePlan(plan)
	assert.False(t, ok)
	assert.Equal(t, StatusInvalidPlan, status)
}

func TestValidatePlanRejectsMissingExecutionFields(t *testing.T) {
	for _, mutate := range []func(*models.Plan){
		func(p *models.Plan) { p.RepayReserve = "" },
		func(p *models.Plan) { p.SeizeReserve = "" },
		func(p *models.Plan) { p.RepayMint = "" },
		func(p *models.Plan) { p.SeizeMint = "" },
		func(p *models.Plan) { p.AmountUi = 0 },
	} {
		plan := completePlan()
		mutate(plan)
		status, ok := ValidatePlan(plan)
		assert.False(t, ok)
		assert.Equal(t, StatusIncompletePlan, status)
	}
}

func TestValidatePlanAllowsNilPlan(t *testing.T) {
	_, ok := ValidatePlan(nil)
	assert.True(t, ok)
}

func TestRemediateKnownCustomCodes(t *testing.T) {
	invalidAccount := 6006
	assert.Contains(t, remediate(&rpcclient.InstructionError{Custom: &invalidAccount}), "invalid account input")

	noFlashRepay := 6032
	assert.Contains(t, remediate(&rpcclient.InstructionError{Custom: &noFlashRepay}), "no flash repay found")
}

func TestRemediateUnknownOrMissingCode(t *testing.T) {
	unknown := 1
	assert.Equal(t, "", remediate(&rpcclient.InstructionError{Custom: &unknown}))
	assert.Equal(t, "", remediate(&rpcclient.InstructionError{}))
	assert.Equal(t, "", remediate(nil))
}
