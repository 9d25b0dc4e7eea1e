package certificates

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the scenario context these steps need.
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	Status() int
	Field(name string) (any, error)
	ActAs(alias string) error
	Save(name, value string)
	Saved(name string) (string, error)
}

// RegisterSteps registers certificate lifecycle steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &certificateSteps{tc: tc}

	ctx.Step(`^"([^"]*)" submits a certificate for (\d+) credits$`, steps.submitCertificate)
	ctx.Step(`^"([^"]*)" starts review of the certificate$`, steps.startReview)
	ctx.Step(`^"([^"]*)" attempts to start review of the certificate$`, steps.attemptStartReview)
	ctx.Step(`^"([^"]*)" approves the certificate with a passing checklist$`, steps.approveCertificate)
	ctx.Step(`^"([^"]*)" rejects the certificate with a failing checklist$`, steps.rejectCertificate)
	ctx.Step(`^the certificate state is "([^"]*)"$`, steps.certificateStateIs)
}

type certificateSteps struct {
	tc TestContext
}

func fullChecklist(passed bool) map[string]bool {
	return map[string]bool{
		"meter_calibration":     passed,
		"renewable_fuel_source": passed,
		"emissions_reporting":   passed,
		"site_inspection":       passed,
		"chain_of_custody":      passed,
	}
}

func (s *certificateSteps) submitCertificate(ctx context.Context, alias string, amount int) error {
	if err := s.tc.ActAs(alias); err != nil {
		return err
	}
	err := s.tc.POST("/certificates", map[string]any{
		"facility":         "solar-farm-7",
		"amount":           amount,
		"carbon_intensity": 12.5,
	})
	if err != nil {
		return err
	}
	if s.tc.Status() != 201 {
		return fmt.Errorf("submit returned %d", s.tc.Status())
	}
	certID, err := s.tc.Field("id")
	if err != nil {
		return err
	}
	s.tc.Save("certificate_id", fmt.Sprintf("%v", certID))
	return nil
}

func (s *certificateSteps) startReview(ctx context.Context, alias string) error {
	if err := s.tc.ActAs(alias); err != nil {
		return err
	}
	certID, err := s.tc.Saved("certificate_id")
	if err != nil {
		return err
	}
	if err := s.tc.POST("/certificates/"+certID+"/review", map[string]any{}); err != nil {
		return err
	}
	if s.tc.Status() != 204 {
		return fmt.Errorf("start review returned %d", s.tc.Status())
	}
	return nil
}

// attemptStartReview sends the claim without asserting success, so scenarios
// can check the refusal status themselves.
func (s *certificateSteps) attemptStartReview(ctx context.Context, alias string) error {
	if err := s.tc.ActAs(alias); err != nil {
		return err
	}
	certID, err := s.tc.Saved("certificate_id")
	if err != nil {
		return err
	}
	return s.tc.POST("/certificates/"+certID+"/review", map[string]any{})
}

func (s *certificateSteps) decide(alias, decision string, checklist map[string]bool) error {
	if err := s.tc.ActAs(alias); err != nil {
		return err
	}
	certID, err := s.tc.Saved("certificate_id")
	if err != nil {
		return err
	}
	if err := s.tc.POST("/certificates/"+certID+"/decision", map[string]any{
		"checklist": checklist,
		"decision":  decision,
		"comment":   "end to end run",
	}); err != nil {
		return err
	}
	if s.tc.Status() != 201 {
		return fmt.Errorf("decision returned %d", s.tc.Status())
	}
	return nil
}

func (s *certificateSteps) approveCertificate(ctx context.Context, alias string) error {
	return s.decide(alias, "approved", fullChecklist(true))
}

func (s *certificateSteps) rejectCertificate(ctx context.Context, alias string) error {
	return s.decide(alias, "rejected", fullChecklist(false))
}

func (s *certificateSteps) certificateStateIs(ctx context.Context, want string) error {
	certID, err := s.tc.Saved("certificate_id")
	if err != nil {
		return err
	}
	if err := s.tc.GET("/certificates/" + certID); err != nil {
		return err
	}
	state, err := s.tc.Field("state")
	if err != nil {
		return err
	}
	if got := fmt.Sprintf("%v", state); got != want {
		return fmt.Errorf("expected certificate state %q, got %q", want, got)
	}
	return nil
}
