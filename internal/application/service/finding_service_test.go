package service

import (
	"context"
	"testing"

	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindingService_ListFindings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	critical := env.detectOne(t, "up-1", missingVATIDInvoice("inv-1"), entity.CategoryMissingVATID)
	env.detectOne(t, "up-1", roundingInvoice("inv-2"), entity.CategoryRoundingMismatch)

	all, err := env.findings.ListFindings(ctx, entity.FindingFilter{UploadID: "up-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyCritical, err := env.findings.ListFindings(ctx, entity.FindingFilter{CompanyID: "acme", Severity: entity.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, onlyCritical, 1)
	assert.Equal(t, critical.ID, onlyCritical[0].ID)

	none, err := env.findings.ListFindings(ctx, entity.FindingFilter{UploadID: "other"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	got, err := env.findings.GetFinding(ctx, critical.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.CategoryMissingVATID, got.Category)
}

func TestFindingService_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		call     func() error
		wantKind apperr.Kind
	}{
		{
			name: "unscoped list",
			call: func() error {
				_, err := env.findings.ListFindings(ctx, entity.FindingFilter{})
				return err
			},
			wantKind: apperr.KindValidation,
		},
		{
			name: "unknown severity",
			call: func() error {
				_, err := env.findings.ListFindings(ctx, entity.FindingFilter{UploadID: "up-1", Severity: "urgent"})
				return err
			},
			wantKind: apperr.KindValidation,
		},
		{
			name: "unknown status",
			call: func() error {
				_, err := env.findings.ListFindings(ctx, entity.FindingFilter{UploadID: "up-1", Status: "closed"})
				return err
			},
			wantKind: apperr.KindValidation,
		},
		{
			name: "empty id",
			call: func() error {
				_, err := env.findings.GetFinding(ctx, "")
				return err
			},
			wantKind: apperr.KindValidation,
		},
		{
			name: "unknown finding",
			call: func() error {
				_, err := env.findings.GetFinding(ctx, "missing")
				return err
			},
			wantKind: apperr.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKind, apperr.KindOf(tt.call()))
		})
	}
}
