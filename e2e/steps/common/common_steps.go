package common

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the scenario context these steps need.
type TestContext interface {
	GET(path string) error
	Status() int
	Field(name string) (any, error)
	ActAs(alias string) error
}

// RegisterSteps registers generic request and assertion steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the registry is reachable$`, steps.registryReachable)
	ctx.Step(`^acting as "([^"]*)"$`, steps.actAs)
	ctx.Step(`^the response status is (\d+)$`, steps.responseStatusIs)
	ctx.Step(`^the response field "([^"]*)" is "([^"]*)"$`, steps.responseFieldIs)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) registryReachable(ctx context.Context) error {
	if err := s.tc.GET("/healthz"); err != nil {
		return err
	}
	if s.tc.Status() != 200 {
		return fmt.Errorf("healthz returned %d", s.tc.Status())
	}
	return nil
}

func (s *commonSteps) actAs(ctx context.Context, alias string) error {
	return s.tc.ActAs(alias)
}

func (s *commonSteps) responseStatusIs(ctx context.Context, want int) error {
	if s.tc.Status() != want {
		return fmt.Errorf("expected status %d, got %d", want, s.tc.Status())
	}
	return nil
}

func (s *commonSteps) responseFieldIs(ctx context.Context, name, want string) error {
	value, err := s.tc.Field(name)
	if err != nil {
		return err
	}
	if got := fmt.Sprintf("%v", value); got != want {
		return fmt.Errorf("expected field %q to be %q, got %q", name, want, got)
	}
	return nil
}
