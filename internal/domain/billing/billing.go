// Package billing declares insurance policies, claims, invoices and
// payments.
package billing

import (
	"context"
	"time"

	"github.com/emaalouf/HIS-sub006/internal/domain/identity"
	"github.com/emaalouf/HIS-sub006/internal/platform/apperr"
	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/refcheck"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
	"github.com/emaalouf/HIS-sub006/internal/platform/store"
)

const (
	InvoiceDraft         = "DRAFT"
	InvoiceIssued        = "ISSUED"
	InvoicePartiallyPaid = "PARTIALLY_PAID"
	InvoicePaid          = "PAID"
	InvoiceVoid          = "VOID"
)

var (
	Policies = query.MustDescriptor(query.Descriptor{
		Name:  "insurance policy",
		Table: "insurance_policies",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.Text("payerName").Require(),
			query.Text("policyNumber").Require(),
			query.Text("groupNumber"),
			query.Enum("planType", "PRIVATE", "MEDICARE", "MEDICAID", "GOVERNMENT", "SELF_PAY"),
			query.Time("coverageStart").Require(),
			query.Time("coverageEnd"),
			query.Bool("isActive"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: identity.Patients},
		},
		Search:      []string{"payerName", "policyNumber", "patient.lastName", "patient.mrn"},
		Filters:     []query.Filter{query.Eq("patientId"), query.Eq("planType"), query.Eq("isActive")},
		DateField:   "coverageStart",
		Sortable:    []string{"coverageStart", "payerName", "createdAt"},
		Unique:      []string{"policyNumber"},
		DefaultSort: "coverageStart",
	})

	Claims = query.MustDescriptor(query.Descriptor{
		Name:  "claim",
		Table: "claims",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.ID("insurancePolicyId").Require(),
			query.Text("claimNumber").Require(),
			query.Time("serviceDate").Require(),
			query.Decimal("totalAmount").Require(),
			query.Decimal("approvedAmount"),
			query.Text("diagnosisCodes"),
			query.Text("procedureCodes"),
			query.Enum("status", "DRAFT", "SUBMITTED", "ACCEPTED", "REJECTED", "PAID"),
			query.Time("submittedAt"),
			query.Text("notes"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: identity.Patients},
			{Name: "insurancePolicy", Field: "insurancePolicyId", Target: Policies},
		},
		Search:      []string{"claimNumber", "diagnosisCodes", "patient.lastName", "patient.mrn"},
		Filters:     []query.Filter{query.Eq("patientId"), query.Eq("insurancePolicyId"), query.In("status")},
		DateField:   "serviceDate",
		Sortable:    []string{"serviceDate", "totalAmount", "status", "createdAt"},
		Unique:      []string{"claimNumber"},
		DefaultSort: "serviceDate",
	})

	Invoices = query.MustDescriptor(query.Descriptor{
		Name:  "invoice",
		Table: "invoices",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.ID("claimId"),
			query.Text("invoiceNumber").Require(),
			query.Time("issueDate").Require(),
			query.Time("dueDate"),
			query.Decimal("totalAmount").Require(),
			query.Decimal("amountPaid"),
			query.Enum("status", InvoiceDraft, InvoiceIssued, InvoicePartiallyPaid, InvoicePaid, InvoiceVoid),
			query.Text("notes"),
		},
		Relations: []query.Relation{
			{Name: "patient", Field: "patientId", Target: identity.Patients},
			{Name: "claim", Field: "claimId", Target: Claims},
		},
		Search:      []string{"invoiceNumber", "notes", "patient.lastName", "patient.mrn"},
		Filters:     []query.Filter{query.Eq("patientId"), query.Eq("claimId"), query.In("status")},
		DateField:   "issueDate",
		Sortable:    []string{"issueDate", "dueDate", "totalAmount", "createdAt"},
		Unique:      []string{"invoiceNumber"},
		DefaultSort: "issueDate",
	})

	Payments = query.MustDescriptor(query.Descriptor{
		Name:  "payment",
		Table: "payments",
		Fields: []query.Field{
			query.ID("invoiceId").Require(),
			query.ID("receivedById"),
			query.Decimal("amount").Require(),
			query.Enum("method", "CASH", "CARD", "BANK_TRANSFER", "INSURANCE", "OTHER").Require(),
			query.Time("paidAt").Require(),
			query.Text("reference"),
			query.Text("notes"),
		},
		Relations: []query.Relation{
			{Name: "invoice", Field: "invoiceId", Target: Invoices},
			{Name: "receivedBy", Field: "receivedById", Target: identity.Users},
		},
		Search:      []string{"reference", "notes", "invoice.invoiceNumber"},
		Filters:     []query.Filter{query.Eq("invoiceId"), query.Eq("receivedById"), query.In("method")},
		DateField:   "paidAt",
		Sortable:    []string{"paidAt", "amount", "createdAt"},
		DefaultSort: "paidAt",
	})
)

var (
	billingStaff = []auth.Role{auth.RoleAdmin, auth.RoleBilling}
	cashiers     = []auth.Role{auth.RoleAdmin, auth.RoleBilling, auth.RoleReceptionist}
	adminOnly    = []auth.Role{auth.RoleAdmin}
	// Financial records are not readable by clinical roles.
	finance = []auth.Role{auth.RoleAdmin, auth.RoleBilling, auth.RoleReceptionist}
)

func Resources() []resource.Resource {
	return []resource.Resource{
		{
			Slug:       "insurance-policies",
			Descriptor: Policies,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients),
			},
			Policy: resource.Policy{Read: finance, Create: cashiers, Update: cashiers, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Chain(
					resource.Defaults(map[string]any{"isActive": true}),
					coverageOrder,
				),
				BeforeUpdate: func(ctx context.Context, patch, current store.Record) error {
					return coverageOrder(ctx, current.Merge(patch))
				},
			},
		},
		{
			Slug:       "claims",
			Descriptor: Claims,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients),
				refcheck.Ref("insurancePolicyId", Policies,
					refcheck.SameParent("patientId", "patientId"),
					refcheck.Active("Insurance policy is not active")),
			},
			Policy: resource.Policy{Read: finance, Create: billingStaff, Update: billingStaff, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Chain(
					resource.Defaults(map[string]any{"status": "DRAFT"}),
					positive("totalAmount"),
				),
			},
		},
		{
			Slug:       "invoices",
			Descriptor: Invoices,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("patientId", identity.Patients),
				refcheck.Ref("claimId", Claims, refcheck.SameParent("patientId", "patientId")),
			},
			Policy: resource.Policy{Read: finance, Create: billingStaff, Update: billingStaff, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: resource.Chain(
					resource.Defaults(map[string]any{"status": InvoiceDraft, "amountPaid": 0.0}),
					positive("totalAmount"),
				),
			},
		},
		{
			Slug:       "payments",
			Descriptor: Payments,
			Dependencies: []refcheck.Dependency{
				refcheck.Ref("invoiceId", Invoices,
					refcheck.FieldIn("status", "Invoice is not open for payment", InvoiceIssued, InvoicePartiallyPaid)),
				refcheck.Ref("receivedById", identity.Users,
					refcheck.HasRole("Receiving user must be active billing staff", true, cashiers...)),
			},
			Policy: resource.Policy{Read: finance, Create: cashiers, Update: billingStaff, Delete: adminOnly},
			Hooks: resource.Hooks{
				BeforeCreate: positive("amount"),
			},
		},
	}
}

func positive(field string) func(context.Context, store.Record) error {
	return func(_ context.Context, rec store.Record) error {
		if v, ok := rec[field].(float64); ok && v <= 0 {
			return apperr.Validation(apperr.CodeInvalidPayload, field, "must be greater than zero")
		}
		return nil
	}
}

func coverageOrder(_ context.Context, rec store.Record) error {
	start, ok1 := rec["coverageStart"].(time.Time)
	end, ok2 := rec["coverageEnd"].(time.Time)
	if ok1 && ok2 && end.Before(start) {
		return apperr.Validation(apperr.CodeInvalidPayload, "coverageEnd", "must not be before coverageStart")
	}
	return nil
}
