//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdant/internal/certificate"
	id "verdant/pkg/domain"
	"verdant/pkg/platform/sentinel"
	"verdant/pkg/testutil/containers"
)

func seedActor(t *testing.T, pg *containers.PostgresContainer, role string) id.ActorID {
	t.Helper()
	actorID := id.NewActorID()
	_, err := pg.DB.Exec(`
		INSERT INTO actors (id, identity_key, role, org_name, email, ledger_role_granted, suspended, registered_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, FALSE, NOW())
	`, actorID.String(), role+"-"+actorID.String(), role, "org "+actorID.String(), actorID.String()+"@example.org")
	require.NoError(t, err)
	return actorID
}

func TestPostgresCertificateStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	pg.ApplyMigrations(t, "../../../migrations")
	store := NewPostgres(pg.DB)
	ctx := context.Background()

	producer := seedActor(t, pg, "producer")

	newCert := func() *certificate.Certificate {
		return &certificate.Certificate{
			ID:              id.NewCertificateID(),
			ProducerID:      producer,
			Facility:        "solar-farm-7",
			Amount:          100,
			CarbonIntensity: 12.5,
			State:           certificate.StatePending,
			SubmittedAt:     time.Now().UTC().Truncate(time.Microsecond),
		}
	}

	t.Run("round trips a certificate", func(t *testing.T) {
		cert := newCert()
		require.NoError(t, store.Create(ctx, cert))

		got, err := store.Get(ctx, cert.ID)
		require.NoError(t, err)
		assert.Equal(t, cert.ID, got.ID)
		assert.Equal(t, certificate.StatePending, got.State)
		assert.True(t, got.ParentID.IsNil())
		assert.True(t, got.ReviewerID.IsNil())
	})

	t.Run("only one certifier claims a review", func(t *testing.T) {
		cert := newCert()
		require.NoError(t, store.Create(ctx, cert))

		const claimers = 8
		certifiers := make([]id.ActorID, claimers)
		for i := range certifiers {
			certifiers[i] = seedActor(t, pg, "certifier")
		}

		var wg sync.WaitGroup
		errs := make([]error, claimers)
		for i := range claimers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = store.ClaimReview(ctx, cert.ID, certifiers[i])
			}()
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
			} else {
				require.ErrorIs(t, err, sentinel.ErrConflict)
			}
		}
		assert.Equal(t, 1, winners)

		got, err := store.Get(ctx, cert.ID)
		require.NoError(t, err)
		assert.Equal(t, certificate.StateUnderReview, got.State)
		assert.False(t, got.ReviewerID.IsNil())
	})

	t.Run("decision round trips through jsonb", func(t *testing.T) {
		cert := newCert()
		require.NoError(t, store.Create(ctx, cert))
		certifier := seedActor(t, pg, "certifier")
		require.NoError(t, store.ClaimReview(ctx, cert.ID, certifier))

		decision := &certificate.ReviewDecision{
			CertificateID: cert.ID,
			CertifierID:   certifier,
			Checklist: certificate.Checklist{
				certificate.ItemMeterCalibration: true,
				certificate.ItemRenewableSource:  true,
				certificate.ItemEmissionsReport:  true,
				certificate.ItemSiteInspection:   false,
				certificate.ItemChainOfCustody:   true,
			},
			Score:     80,
			Decision:  certificate.DecisionApproved,
			Comment:   "minor inspection gap",
			DecidedAt: time.Now().UTC().Truncate(time.Microsecond),
		}
		require.NoError(t, store.Conclude(ctx, decision))

		got, err := store.GetDecision(ctx, cert.ID)
		require.NoError(t, err)
		assert.Equal(t, decision.Checklist, got.Checklist)
		assert.Equal(t, 80, got.Score)
		assert.Equal(t, certificate.DecisionApproved, got.Decision)

		cert2, err := store.Get(ctx, cert.ID)
		require.NoError(t, err)
		assert.Equal(t, certificate.StateApproved, cert2.State)
	})
}
