// Package testutil provides test fixtures for the model router.
package testutil

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/user/model-router-go/internal/database"
	"github.com/user/model-router-go/internal/models"
)

// NewTestDB creates a fully migrated in-memory ledger database. The database
// is automatically closed when the test completes.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.NewMemory()
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() {
		db.Close()
	})

	require.NoError(t, database.RunMigrations(db), "failed to migrate test database")
	return db
}

// NewTestProfile builds a two-provider profile: remote provider p1 with
// models m1/m2 and local provider p2 with model local-m. Rules can be
// appended by the caller.
func NewTestProfile(rules ...models.RoutingRule) *models.RoutingProfile {
	return &models.RoutingProfile{
		SnapshotID: "test-snapshot",
		Mode:       models.ModeAuto,
		Providers: []models.ProviderConfig{
			{
				ID:   "p1",
				Kind: "openai",
				Models: []models.ModelSpec{
					{
						Name:         "m1",
						Price:        models.ModelPrice{InputPerMTok: 3, OutputPerMTok: 15},
						Capabilities: []string{models.CapQuality, models.CapLargeContext},
					},
					{
						Name:         "m2",
						Price:        models.ModelPrice{InputPerMTok: 0.25, OutputPerMTok: 1.25},
						Capabilities: []string{models.CapFast},
					},
				},
			},
			{
				ID:        "p2",
				Kind:      "local",
				LocalOnly: true,
				Models: []models.ModelSpec{
					{
						Name:         "local-m",
						Price:        models.ModelPrice{},
						Capabilities: []string{models.CapFast, models.CapCode},
					},
				},
			},
		},
		Rules: rules,
		Default: models.RuleAction{
			Prefer: []string{"p1:m1"},
			Target: "chat",
		},
	}
}
