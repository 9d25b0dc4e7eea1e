package actors

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the scenario context these steps need.
type TestContext interface {
	POST(path string, body any) error
	Status() int
	Field(name string) (any, error)
	SetCredentials(alias, token, actorID string)
	FreshIdentityKey(alias string) string
}

// RegisterSteps registers actor registration and token steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &actorSteps{tc: tc}

	ctx.Step(`^a registered (producer|certifier|buyer|admin) "([^"]*)"$`, steps.registeredActor)
}

type actorSteps struct {
	tc TestContext
}

// registeredActor registers an actor and exchanges its identity key for a
// bearer token, storing both under the alias.
func (s *actorSteps) registeredActor(ctx context.Context, role, alias string) error {
	body := map[string]any{
		"identity_key": s.tc.FreshIdentityKey(alias),
		"role":         role,
		"org_name":     alias + " organization",
		"email":        alias + "@example.org",
	}
	if role == "certifier" {
		body["accreditation_id"] = "ACCRED-" + alias
	}
	if err := s.tc.POST("/actors", body); err != nil {
		return err
	}
	if s.tc.Status() != 201 {
		return fmt.Errorf("registering %s %q returned %d", role, alias, s.tc.Status())
	}

	if err := s.tc.POST("/auth/token", map[string]any{"identity_key": body["identity_key"]}); err != nil {
		return err
	}
	if s.tc.Status() != 200 {
		return fmt.Errorf("token exchange for %q returned %d", alias, s.tc.Status())
	}
	token, err := s.tc.Field("access_token")
	if err != nil {
		return err
	}
	actorID, err := s.tc.Field("actor_id")
	if err != nil {
		return err
	}
	s.tc.SetCredentials(alias, fmt.Sprintf("%v", token), fmt.Sprintf("%v", actorID))
	return nil
}
