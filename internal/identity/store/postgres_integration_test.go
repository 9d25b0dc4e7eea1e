//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdant/internal/identity"
	id "verdant/pkg/domain"
	"verdant/pkg/platform/sentinel"
	"verdant/pkg/testutil/containers"
)

func newActor(role identity.Role, key string) *identity.Actor {
	actor := &identity.Actor{
		ID:           id.NewActorID(),
		IdentityKey:  key,
		Role:         role,
		OrgName:      "org " + key,
		Email:        key + "@example.org",
		RegisteredAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if role == identity.RoleCertifier {
		actor.AccreditationID = "ACCRED-" + key
	}
	return actor
}

func TestPostgresActorStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	pg.ApplyMigrations(t, "../../../migrations")
	store := NewPostgres(pg.DB)
	ctx := context.Background()

	producer := newActor(identity.RoleProducer, "producer-1")
	require.NoError(t, store.Save(ctx, producer))

	t.Run("round trips an actor", func(t *testing.T) {
		got, err := store.FindByID(ctx, producer.ID)
		require.NoError(t, err)
		assert.Equal(t, producer.ID, got.ID)
		assert.Equal(t, producer.IdentityKey, got.IdentityKey)
		assert.Equal(t, producer.Role, got.Role)
		assert.Equal(t, producer.OrgName, got.OrgName)
		assert.Equal(t, producer.Email, got.Email)
		assert.True(t, producer.RegisteredAt.Equal(got.RegisteredAt))

		got, err = store.FindByIdentityKey(ctx, producer.IdentityKey)
		require.NoError(t, err)
		assert.Equal(t, producer.ID, got.ID)
	})

	t.Run("duplicate identity key conflicts", func(t *testing.T) {
		dup := newActor(identity.RoleBuyer, "producer-1")
		err := store.Save(ctx, dup)
		require.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		dup := newActor(identity.RoleBuyer, "buyer-dup-email")
		dup.Email = producer.Email
		err := store.Save(ctx, dup)
		require.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("organization name is unique per role", func(t *testing.T) {
		dup := newActor(identity.RoleProducer, "producer-dup-org")
		dup.OrgName = producer.OrgName
		err := store.Save(ctx, dup)
		require.ErrorIs(t, err, sentinel.ErrConflict)

		sameNameOtherRole := newActor(identity.RoleBuyer, "buyer-same-org")
		sameNameOtherRole.OrgName = producer.OrgName
		require.NoError(t, store.Save(ctx, sameNameOtherRole))
	})

	t.Run("duplicate accreditation id conflicts", func(t *testing.T) {
		first := newActor(identity.RoleCertifier, "certifier-accred-1")
		require.NoError(t, store.Save(ctx, first))

		dup := newActor(identity.RoleCertifier, "certifier-accred-2")
		dup.AccreditationID = first.AccreditationID
		err := store.Save(ctx, dup)
		require.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("actors without accreditation do not collide", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newActor(identity.RoleBuyer, "buyer-no-accred-1")))
		require.NoError(t, store.Save(ctx, newActor(identity.RoleBuyer, "buyer-no-accred-2")))
	})

	t.Run("unknown actor is not found", func(t *testing.T) {
		_, err := store.FindByID(ctx, id.NewActorID())
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("suspension and grant flags persist", func(t *testing.T) {
		require.NoError(t, store.SetSuspended(ctx, producer.ID, true))
		require.NoError(t, store.SetLedgerRoleGranted(ctx, producer.ID, true))

		got, err := store.FindByID(ctx, producer.ID)
		require.NoError(t, err)
		assert.True(t, got.Suspended)
		assert.True(t, got.LedgerRoleGranted)

		require.NoError(t, store.SetSuspended(ctx, producer.ID, false))
		got, err = store.FindByID(ctx, producer.ID)
		require.NoError(t, err)
		assert.False(t, got.Suspended)
	})

	t.Run("flag update on unknown actor is not found", func(t *testing.T) {
		err := store.SetSuspended(ctx, id.NewActorID(), true)
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("lists actors in registration order", func(t *testing.T) {
		certifier := newActor(identity.RoleCertifier, "certifier-1")
		certifier.RegisteredAt = time.Now().UTC().Add(time.Hour)
		require.NoError(t, store.Save(ctx, certifier))

		actors, err := store.List(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, actors)
		for i := 1; i < len(actors); i++ {
			assert.False(t, actors[i].RegisteredAt.Before(actors[i-1].RegisteredAt))
		}
		assert.Equal(t, producer.ID, actors[0].ID)
		assert.Equal(t, certifier.ID, actors[len(actors)-1].ID)
	})
}
