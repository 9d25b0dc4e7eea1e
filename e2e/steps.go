package e2e

import (
	"github.com/cucumber/godog"

	"verdant/e2e/steps/actors"
	"verdant/e2e/steps/certificates"
	"verdant/e2e/steps/common"
	"verdant/e2e/steps/credits"
)

// RegisterSteps registers all step definitions from the modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	actors.RegisterSteps(ctx, tc)
	certificates.RegisterSteps(ctx, tc)
	credits.RegisterSteps(ctx, tc)
}
