package httptransport_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"verdant/internal/audit"
	auditstore "verdant/internal/audit/store"
	certservice "verdant/internal/certificate/service"
	certstore "verdant/internal/certificate/store"
	"verdant/internal/credit/idempotency"
	creditservice "verdant/internal/credit/service"
	creditstore "verdant/internal/credit/store"
	identityservice "verdant/internal/identity/service"
	identitystore "verdant/internal/identity/store"
	"verdant/internal/jwttoken"
	"verdant/internal/ledger"
	httptransport "verdant/internal/transport/http"
	id "verdant/pkg/domain"
	dErrors "verdant/pkg/domain-errors"
	"verdant/pkg/testutil"
)

type RouterSuite struct {
	suite.Suite
	router http.Handler
	cancel context.CancelFunc
	chain  *ledger.MemoryLedger
	tokens map[string]string // identity key -> bearer token
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.chain = ledger.NewMemoryLedger()

	identitySvc, err := identityservice.New(identitystore.NewMemory(), s.chain, identityservice.WithLogger(logger))
	s.Require().NoError(err)

	sink := auditstore.NewMemory()
	publisher := audit.NewPublisher(audit.WithLogger(logger))
	worker := audit.NewWorker(sink, publisher.Inbox(), logger)

	// The engine and the coordinator reference each other; the IssuerFunc
	// closure breaks the construction cycle.
	var creditSvc *creditservice.Service
	certSvc, err := certservice.New(certstore.NewMemory(), identitySvc,
		certservice.IssuerFunc(func(certID id.CertificateID) {
			creditSvc.RequestIssuance(certID)
		}),
		certservice.WithLogger(logger),
		certservice.WithAuditPublisher(publisher),
	)
	s.Require().NoError(err)

	creditSvc, err = creditservice.New(creditstore.NewMemory(), idempotency.NewMemory(), s.chain, identitySvc, certSvc,
		creditservice.WithLogger(logger),
		creditservice.WithAuditPublisher(publisher),
	)
	s.Require().NoError(err)

	jwtSvc := jwttoken.NewJWTService("test-signing-key", "verdant", "verdant-api")

	s.router = httptransport.NewRouter(httptransport.Deps{
		Logger:       logger,
		JWTValidator: jwttoken.NewJWTServiceAdapter(jwtSvc),
		Identity:     identitySvc,
		Actors:       identitySvc,
		Tokens:       jwtSvc,
		Certs:        certSvc,
		Credits:      creditSvc,
		Audit:        audit.NewService(sink),
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go creditSvc.Run(ctx)
	go func() { _ = worker.Run(ctx) }()

	s.tokens = make(map[string]string)
	s.registerActor("key-producer", "producer", "Solaris Farms", "ops@solaris.example", "")
	s.registerActor("key-certifier", "certifier", "AuditCo", "audit@auditco.example", "ACC-1")
	s.registerActor("key-buyer", "buyer", "OffsetCo", "buy@offsetco.example", "")
	s.registerActor("key-admin", "admin", "Registry Ops", "ops@registry.example", "")
}

func (s *RouterSuite) TearDownTest() {
	s.cancel()
}

func (s *RouterSuite) registerActor(key, role, org, email, accreditation string) {
	body := map[string]any{
		"identity_key": key,
		"role":         role,
		"org_name":     org,
		"email":        email,
	}
	if accreditation != "" {
		body["accreditation_id"] = accreditation
	}
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/actors", body))
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/token",
		map[string]any{"identity_key": key}))
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	resp := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	s.tokens[key] = (*resp)["access_token"].(string)
}

// do issues a request with the bearer token of the given identity key.
func (s *RouterSuite) do(key, method, path string, body any) *http.Response {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[key])
	}
	return testutil.DoRequest(s.router, req).Result()
}

func (s *RouterSuite) doJSON(key, method, path string, body any) (int, map[string]any) {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[key])
	}
	rr := testutil.DoRequest(s.router, req)
	var out map[string]any
	if rr.Body.Len() > 0 {
		out = *testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	}
	return rr.Code, out
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

// submitAndApprove drives a claim through the whole review flow over HTTP
// and returns the certificate id.
func (s *RouterSuite) submitAndApprove(amount int64) string {
	status, cert := s.doJSON("key-producer", http.MethodPost, "/certificates", map[string]any{
		"facility": "Solar Park 7", "amount": amount, "carbon_intensity": 12.5,
	})
	s.Require().Equal(http.StatusCreated, status)
	certID := cert["id"].(string)

	resp := s.do("key-certifier", http.MethodPost, "/certificates/"+certID+"/review", nil)
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)

	status, _ = s.doJSON("key-certifier", http.MethodPost, "/certificates/"+certID+"/decision", map[string]any{
		"checklist": fullChecklist(true), "decision": "approved",
	})
	s.Require().Equal(http.StatusCreated, status)
	return certID
}

// mintedBatch forces issuance through the operator endpoint. The background
// worker may already have minted; the endpoint is idempotent either way.
func (s *RouterSuite) mintedBatch(certID string) map[string]any {
	status, batch := s.doJSON("key-admin", http.MethodPost, "/credits/issue", map[string]any{
		"certificate_id": certID,
	})
	s.Require().Equal(http.StatusCreated, status)
	return batch
}

func (s *RouterSuite) TestHealthz() {
	resp := s.do("", http.MethodGet, "/healthz", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *RouterSuite) TestAuthRequired() {
	resp := s.do("", http.MethodGet, "/credits/holdings", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *RouterSuite) TestTokenForUnknownKey() {
	status, body := s.doJSON("", http.MethodPost, "/auth/token", map[string]any{"identity_key": "nope"})
	s.Equal(http.StatusNotFound, status)
	s.Equal(string(dErrors.CodeUnknownActor), body["error"])
}

func (s *RouterSuite) TestCertificateLifecycle() {
	certID := s.submitAndApprove(100)

	status, cert := s.doJSON("key-producer", http.MethodGet, "/certificates/"+certID, nil)
	s.Equal(http.StatusOK, status)
	s.Equal("approved", cert["state"])

	status, decision := s.doJSON("key-producer", http.MethodGet, "/certificates/"+certID+"/decision", nil)
	s.Equal(http.StatusOK, status)
	s.Equal(float64(100), decision["score"])
}

func (s *RouterSuite) TestSecondReviewerConflicts() {
	status, cert := s.doJSON("key-producer", http.MethodPost, "/certificates", map[string]any{
		"facility": "Plant", "amount": 10,
	})
	s.Require().Equal(http.StatusCreated, status)
	certID := cert["id"].(string)

	resp := s.do("key-certifier", http.MethodPost, "/certificates/"+certID+"/review", nil)
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)

	status, body := s.doJSON("key-certifier", http.MethodPost, "/certificates/"+certID+"/review", nil)
	s.Equal(http.StatusConflict, status)
	s.Equal(string(dErrors.CodeAlreadyUnderReview), body["error"])
}

func (s *RouterSuite) TestLowScoreApprovalRejected() {
	status, cert := s.doJSON("key-producer", http.MethodPost, "/certificates", map[string]any{
		"facility": "Plant", "amount": 10,
	})
	s.Require().Equal(http.StatusCreated, status)
	certID := cert["id"].(string)

	resp := s.do("key-certifier", http.MethodPost, "/certificates/"+certID+"/review", nil)
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)

	status, body := s.doJSON("key-certifier", http.MethodPost, "/certificates/"+certID+"/decision", map[string]any{
		"checklist": fullChecklist(false), "decision": "approved",
	})
	s.Equal(http.StatusUnprocessableEntity, status)
	s.Equal(string(dErrors.CodeScoreBelowThreshold), body["error"])
}

func (s *RouterSuite) TestCreditFlow() {
	certID := s.submitAndApprove(100)
	batch := s.mintedBatch(certID)
	batchID := batch["batch_id"].(string)
	s.Equal(float64(100), batch["total"])

	buyerID := s.actorID("key-buyer")

	status, transfer := s.doJSON("key-producer", http.MethodPost, "/credits/transfer", map[string]any{
		"batch_id": batchID, "to": buyerID, "amount": 30,
	})
	s.Require().Equal(http.StatusOK, status)
	s.NotEmpty(transfer["tx_ref"])

	status, retirement := s.doJSON("key-buyer", http.MethodPost, "/credits/retire", map[string]any{
		"batch_id": batchID, "amount": 20, "beneficiary": "Flight BA117 offset",
	})
	s.Require().Equal(http.StatusCreated, status)
	s.Equal(float64(20), retirement["amount"])

	status, body := s.doJSON("key-buyer", http.MethodPost, "/credits/retire", map[string]any{
		"batch_id": batchID, "amount": 50, "beneficiary": "too much",
	})
	s.Equal(http.StatusUnprocessableEntity, status)
	s.Equal(string(dErrors.CodeInsufficientBalance), body["error"])

	status, got := s.doJSON("key-producer", http.MethodGet, "/credits/batches/"+batchID, nil)
	s.Equal(http.StatusOK, status)
	s.Equal(float64(80), got["outstanding"])
}

func (s *RouterSuite) TestAdminOnlySurfaces() {
	status, body := s.doJSON("key-producer", http.MethodGet, "/credits/failed-issuances", nil)
	s.Equal(http.StatusForbidden, status)
	s.Equal(string(dErrors.CodeRoleViolation), body["error"])

	resp := s.do("key-admin", http.MethodGet, "/credits/failed-issuances", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *RouterSuite) TestAuditTrail() {
	certID := s.submitAndApprove(10)

	s.Require().Eventually(func() bool {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/audit/"+certID)
		req.Header.Set("Authorization", "Bearer "+s.tokens["key-admin"])
		rr := testutil.DoRequest(s.router, req)
		if rr.Code != http.StatusOK {
			return false
		}
		recs := *testutil.UnmarshalResponse[[]map[string]any](s.T(), rr)
		return len(recs) >= 3
	}, 2*time.Second, 20*time.Millisecond)
}

// actorID resolves a registered identity key to its actor id via the token
// endpoint response.
func (s *RouterSuite) actorID(key string) string {
	status, body := s.doJSON("", http.MethodPost, "/auth/token", map[string]any{"identity_key": key})
	s.Require().Equal(http.StatusOK, status)
	return body["actor_id"].(string)
}
