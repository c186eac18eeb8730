package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInvoiceInput(number string) InvoiceInput {
	return InvoiceInput{
		InvoiceNumber:   number,
		IssueDate:       time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
		SupplierCountry: "FR",
		CustomerCountry: "DE",
		CustomerName:    "Beispiel GmbH\x00",
		SupplyCategory:  "cross_border_b2b",
		ProductCategory: "standard",
		NetAmount:       dec("1000.00"),
		VATRate:         dec("0"),
		VATAmount:       dec("0"),
		TotalAmount:     dec("1000.00"),
	}
}

func TestUploadService_CreateUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	upload, err := env.uploads.CreateUpload(ctx, &CreateUploadRequest{
		CompanyID:  "acme",
		SourceName: "  september.csv ",
		Invoices:   []InvoiceInput{validInvoiceInput("A-1"), validInvoiceInput("A-2")},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, upload.ID)
	assert.Equal(t, "acme", upload.CompanyID)
	assert.Equal(t, "september.csv", upload.SourceName)
	assert.Equal(t, 2, upload.InvoiceCount)
	assert.Equal(t, entity.UploadStatusPending, upload.Status)

	invoices, err := env.uploads.ListInvoices(ctx, upload.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "A-1", invoices[0].InvoiceNumber)
	assert.Equal(t, "A-2", invoices[1].InvoiceNumber)
	assert.NotEqual(t, invoices[0].ID, invoices[1].ID)
	assert.Equal(t, upload.ID, invoices[0].UploadID)
	assert.Equal(t, "acme", invoices[0].CompanyID)
	assert.Equal(t, "Beispiel GmbH", invoices[0].CustomerName)
	assert.Equal(t, entity.SupplyCrossBorderB2B, invoices[0].SupplyCategory)

	assert.Equal(t, []event.Type{event.TypeUploadStatusChanged}, env.publisher.types())
}

func TestUploadService_CreateUpload_AutoDetect(t *testing.T) {
	env := newTestEnv(t)

	upload, err := env.uploads.CreateUpload(context.Background(), &CreateUploadRequest{
		CompanyID:   "acme",
		Invoices:    []InvoiceInput{validInvoiceInput("A-1")},
		AutoDetect:  true,
		UseAdvisory: true,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.UploadStatusQueued, upload.Status)
	assert.True(t, upload.UseAdvisory)

	stored, err := env.uploads.GetUpload(context.Background(), upload.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.UploadStatusQueued, stored.Status)
}

func TestUploadService_CreateUpload_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(req *CreateUploadRequest)
	}{
		{name: "missing company", mutate: func(req *CreateUploadRequest) { req.CompanyID = "" }},
		{name: "no invoices", mutate: func(req *CreateUploadRequest) { req.Invoices = nil }},
		{name: "lowercase country", mutate: func(req *CreateUploadRequest) { req.Invoices[0].CustomerCountry = "de" }},
		{name: "unknown supply category", mutate: func(req *CreateUploadRequest) { req.Invoices[0].SupplyCategory = "export" }},
		{name: "missing invoice number", mutate: func(req *CreateUploadRequest) { req.Invoices[0].InvoiceNumber = "" }},
		{name: "negative net", mutate: func(req *CreateUploadRequest) { req.Invoices[0].NetAmount = dec("-1") }},
		{name: "sub-cent total", mutate: func(req *CreateUploadRequest) { req.Invoices[0].TotalAmount = dec("10.005") }},
		{name: "rate above 100", mutate: func(req *CreateUploadRequest) { req.Invoices[0].VATRate = dec("101") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := &CreateUploadRequest{CompanyID: "acme", Invoices: []InvoiceInput{validInvoiceInput("A-1")}}
			tt.mutate(req)

			_, err := env.uploads.CreateUpload(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Empty(t, env.publisher.types())
		})
	}
}

func TestUploadService_CreateUpload_IsAtomic(t *testing.T) {
	env := newTestEnv(t)
	env.store.setFail("invoices.Create", errors.New("disk full"))

	_, err := env.uploads.CreateUpload(context.Background(), &CreateUploadRequest{
		CompanyID: "acme",
		Invoices:  []InvoiceInput{validInvoiceInput("A-1")},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	assert.Empty(t, env.store.uploads)
	assert.Empty(t, env.store.invoices)
}

func TestUploadService_EnqueueDetection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUpload(t, "up-1")

	upload, err := env.uploads.EnqueueDetection(ctx, "up-1", true)
	require.NoError(t, err)
	assert.Equal(t, entity.UploadStatusQueued, upload.Status)
	assert.True(t, upload.UseAdvisory)

	again, err := env.uploads.EnqueueDetection(ctx, "up-1", false)
	require.NoError(t, err)
	assert.Equal(t, entity.UploadStatusQueued, again.Status)
	assert.True(t, again.UseAdvisory)

	assert.Equal(t, []event.Type{event.TypeUploadStatusChanged}, env.publisher.types())

	_, err = env.uploads.EnqueueDetection(ctx, "missing", false)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUploadService_Lookups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.uploads.GetUpload(ctx, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = env.uploads.ListInvoices(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	env.seedUpload(t, "up-1")
	anomalies, err := env.uploads.ListAnomalies(ctx, "up-1")
	require.NoError(t, err)
	assert.NotNil(t, anomalies)
	assert.Empty(t, anomalies)
}
