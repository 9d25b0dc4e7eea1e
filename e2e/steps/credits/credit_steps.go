package credits

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
	Array() ([]map[string]any, error)
	ActAs(alias string) error
	ActorID(alias string) (string, error)
	Save(name, value string)
	Saved(name string) (string, error)
}

// RegisterSteps registers credit issuance, transfer and retirement steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &creditSteps{tc: tc}

	ctx.Step(`^"([^"]*)" mints the credit batch for the certificate$`, steps.mintBatch)
	ctx.Step(`^"([^"]*)" transfers (\d+) credits to "([^"]*)"$`, steps.transferCredits)
	ctx.Step(`^"([^"]*)" retires (\d+) credits for beneficiary "([^"]*)"$`, steps.retireCredits)
	ctx.Step(`^"([^"]*)" attempts to retire (\d+) credits for beneficiary "([^"]*)"$`, steps.attemptRetire)
	ctx.Step(`^"([^"]*)" holds (\d+) credits of the batch$`, steps.holdsCredits)
	ctx.Step(`^the batch has (\d+) credits outstanding$`, steps.batchOutstanding)
}

type creditSteps struct {
	tc TestContext
}

// mintBatch asks the operator surface to issue credits for the approved
// certificate. The call is idempotent against the background issuance
// worker, so it also serves as a barrier: once it returns, the batch exists.
func (s *creditSteps) mintBatch(ctx context.Context, alias string) error {
	if err := s.tc.ActAs(alias); err != nil {
		return err
	}
	certID, err := s.tc.Saved("certificate_id")
	if err != nil {
		return err
	}
	if err := s.tc.POST("/credits/issue", map[string]any{"certificate_id": certID}); err != nil {
		return err
	}
	if s.tc.Status() != 201 {
		return fmt.Errorf("issue returned %d", s.tc.Status())
	}
	batchID, err := s.tc.Field("batch_id")
	if err != nil {
		return err
	}
	s.tc.Save("batch_id", fmt.Sprintf("%v", batchID))
	return nil
}

func (s *creditSteps) transferCredits(ctx context.Context, from string, amount int, to string) error {
	if err := s.tc.ActAs(from); err != nil {
		return err
	}
	batchID, err := s.tc.Saved("batch_id")
	if err != nil {
		return err
	}
	toID, err := s.tc.ActorID(to)
	if err != nil {
		return err
	}
	if err := s.tc.POST("/credits/transfer", map[string]any{
		"batch_id": batchID,
		"to":       toID,
		"amount":   amount,
	}); err != nil {
		return err
	}
	if s.tc.Status() != 200 {
		return fmt.Errorf("transfer returned %d", s.tc.Status())
	}
	return nil
}

func (s *creditSteps) retire(alias string, amount int, beneficiary string) error {
	if err := s.tc.ActAs(alias); err != nil {
		return err
	}
	batchID, err := s.tc.Saved("batch_id")
	if err != nil {
		return err
	}
	return s.tc.POST("/credits/retire", map[string]any{
		"batch_id":    batchID,
		"amount":      amount,
		"beneficiary": beneficiary,
	})
}

func (s *creditSteps) retireCredits(ctx context.Context, alias string, amount int, beneficiary string) error {
	if err := s.retire(alias, amount, beneficiary); err != nil {
		return err
	}
	if s.tc.Status() != 201 {
		return fmt.Errorf("retire returned %d", s.tc.Status())
	}
	return nil
}

// attemptRetire sends the request without asserting success, so scenarios
// can check the refusal status themselves.
func (s *creditSteps) attemptRetire(ctx context.Context, alias string, amount int, beneficiary string) error {
	return s.retire(alias, amount, beneficiary)
}

func (s *creditSteps) holdsCredits(ctx context.Context, alias string, want int) error {
	if err := s.tc.ActAs(alias); err != nil {
		return err
	}
	batchID, err := s.tc.Saved("batch_id")
	if err != nil {
		return err
	}
	if err := s.tc.GET("/credits/holdings"); err != nil {
		return err
	}
	holdings, err := s.tc.Array()
	if err != nil {
		return err
	}
	for _, holding := range holdings {
		if fmt.Sprintf("%v", holding["batch_id"]) == batchID {
			if got := int(holding["amount"].(float64)); got != want {
				return fmt.Errorf("expected %q to hold %d, holds %d", alias, want, got)
			}
			return nil
		}
	}
	if want == 0 {
		return nil
	}
	return fmt.Errorf("%q holds nothing of batch %s", alias, batchID)
}

func (s *creditSteps) batchOutstanding(ctx context.Context, want int) error {
	batchID, err := s.tc.Saved("batch_id")
	if err != nil {
		return err
	}
	if err := s.tc.GET("/credits/batches/" + batchID); err != nil {
		return err
	}
	outstanding, err := s.tc.Field("outstanding")
	if err != nil {
		return err
	}
	if got := int(outstanding.(float64)); got != want {
		return fmt.Errorf("expected %d outstanding, got %d", want, got)
	}
	return nil
}
