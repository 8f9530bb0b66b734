package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emaalouf/HIS-sub006/internal/domain/identity"
	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

func TestBillingChain(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	ids := identity.Resources()
	users := resource.NewService(ids[0], m, nil)
	patients := resource.NewService(ids[1], m, nil)
	res := Resources()
	policies := resource.NewService(res[0], m, nil)
	claims := resource.NewService(res[1], m, nil)
	invoices := resource.NewService(res[2], m, nil)
	payments := resource.NewService(res[3], m, nil)

	mk := func(s *resource.Service, p map[string]any) store.Record {
		t.Helper()
		rec, err := s.Create(ctx, p)
		require.NoError(t, err, s.Resource().Slug)
		return rec
	}
	ann := mk(patients, map[string]any{"mrn": "1", "firstName": "Ann", "lastName": "Lee", "dateOfBirth": "1970-01-01", "gender": "FEMALE"}).ID()
	ben := mk(patients, map[string]any{"mrn": "2", "firstName": "Ben", "lastName": "Lee", "dateOfBirth": "1970-01-01", "gender": "MALE"}).ID()
	cashier := mk(users, map[string]any{"email": "c@x", "firstName": "C", "lastName": "C", "role": "BILLING"}).ID()
	nurse := mk(users, map[string]any{"email": "n@x", "firstName": "N", "lastName": "N", "role": "NURSE"}).ID()

	policy := mk(policies, map[string]any{
		"patientId": ann, "payerName": "Acme Health", "policyNumber": "AH-1", "coverageStart": "2024-01-01",
	})
	assert.Equal(t, true, policy["isActive"])

	_, err := claims.Create(ctx, map[string]any{
		"patientId": ben, "insurancePolicyId": policy.ID(), "claimNumber": "C-1",
		"serviceDate": "2024-02-01", "totalAmount": 120.0,
	})
	ae := apperr.As(err)
	assert.Equal(t, apperr.CodeInvalidReference, ae.Code)
	assert.Equal(t, "insurancePolicyId", ae.Field)

	claim := mk(claims, map[string]any{
		"patientId": ann, "insurancePolicyId": policy.ID(), "claimNumber": "C-1",
		"serviceDate": "2024-02-01", "totalAmount": 120.0,
	})
	assert.Equal(t, "DRAFT", claim["status"])

	invoice := mk(invoices, map[string]any{
		"patientId": ann, "claimId": claim.ID(), "invoiceNumber": "INV-1",
		"issueDate": "2024-02-02", "totalAmount": 120.0,
	})
	assert.Equal(t, InvoiceDraft, invoice["status"])

	pay := map[string]any{"invoiceId": invoice.ID(), "receivedById": cashier, "amount": 50.0, "method": "CARD", "paidAt": "2024-02-03"}
	_, err = payments.Create(ctx, pay)
	assert.Equal(t, "Invoice is not open for payment", apperr.As(err).Message)

	_, err = invoices.Update(ctx, invoice.ID(), map[string]any{"status": InvoiceIssued})
	require.NoError(t, err)
	mk(payments, pay)

	pay["receivedById"] = nurse
	_, err = payments.Create(ctx, pay)
	assert.Equal(t, "receivedById", apperr.As(err).Field)

	pay["receivedById"] = cashier
	pay["amount"] = -5.0
	_, err = payments.Create(ctx, pay)
	assert.Equal(t, "amount", apperr.As(err).Field)

	_, err = invoices.Create(ctx, map[string]any{
		"patientId": ann, "invoiceNumber": "INV-1", "issueDate": "2024-02-02", "totalAmount": 10.0,
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestInsurancePolicy_CoverageOrderOnUpdate(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	patients := resource.NewService(identity.Resources()[1], m, nil)
	policies := resource.NewService(Resources()[0], m, nil)

	p, err := patients.Create(ctx, map[string]any{"mrn": "1", "firstName": "A", "lastName": "B", "dateOfBirth": "1970-01-01", "gender": "MALE"})
	require.NoError(t, err)
	pol, err := policies.Create(ctx, map[string]any{"patientId": p.ID(), "payerName": "X", "policyNumber": "X-1", "coverageStart": "2024-06-01"})
	require.NoError(t, err)

	_, err = policies.Update(ctx, pol.ID(), map[string]any{"coverageEnd": "2024-01-01"})
	assert.Equal(t, "coverageEnd", apperr.As(err).Field)
}
