package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
)

var (
	testPatients = query.MustDescriptor(query.Descriptor{
		Name:  "patient",
		Table: "patients",
		Fields: []query.Field{
			query.Text("mrn").Require(),
			query.Text("lastName").Require(),
			query.Enum("gender", "MALE", "FEMALE"),
			query.Time("dateOfBirth"),
		},
		Search:   []string{"mrn", "lastName"},
		Filters:  []query.Filter{query.Eq("gender"), query.In("mrn").As("mrns")},
		Sortable: []string{"lastName", "createdAt"},
	})
	testVisits = query.MustDescriptor(query.Descriptor{
		Name:  "visit",
		Table: "visits",
		Fields: []query.Field{
			query.ID("patientId").Require(),
			query.Time("visitDate").Require(),
			query.Decimal("egfr"),
		},
		Relations: []query.Relation{{Name: "patient", Field: "patientId", Target: testPatients}},
		DateField: "visitDate",
	})
)

func newTestGenerator() *Generator {
	return NewGenerator([]resource.Resource{
		{Slug: "patients", Descriptor: testPatients, Policy: resource.Policy{
			Create: []auth.Role{auth.RoleAdmin}, Update: []auth.Role{auth.RoleAdmin}, Delete: []auth.Role{auth.RoleAdmin},
		}},
		{Slug: "nephrology-visits", Descriptor: testVisits, Policy: resource.Policy{
			Create: auth.Clinicians, Update: auth.Clinicians, Delete: []auth.Role{auth.RoleAdmin},
		}},
	}, "1.0.0", "http://localhost:8000")
}

func TestGenerateSpec_Structure(t *testing.T) {
	spec := newTestGenerator().GenerateSpec()

	if spec["openapi"] != "3.0.3" {
		t.Errorf("expected openapi '3.0.3', got %v", spec["openapi"])
	}
	info, ok := spec["info"].(map[string]interface{})
	if !ok {
		t.Fatal("expected info object")
	}
	if info["version"] != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %v", info["version"])
	}
	servers, ok := spec["servers"].([]map[string]string)
	if !ok || len(servers) != 1 || servers[0]["url"] != "http://localhost:8000" {
		t.Errorf("unexpected servers: %v", spec["servers"])
	}
}

func TestGenerateSpec_Paths(t *testing.T) {
	paths := newTestGenerator().GenerateSpec()["paths"].(map[string]interface{})

	for _, p := range []string{
		"/api/v1/patients",
		"/api/v1/patients/export",
		"/api/v1/patients/{id}",
		"/api/v1/nephrology-visits",
		"/api/v1/nephrology-visits/{id}",
	} {
		if _, ok := paths[p]; !ok {
			t.Errorf("missing path %s", p)
		}
	}

	item := paths["/api/v1/patients/{id}"].(map[string]interface{})
	for _, m := range []string{"get", "put", "patch", "delete"} {
		if _, ok := item[m]; !ok {
			t.Errorf("missing %s on item path", m)
		}
	}
	del := item["delete"].(map[string]interface{})
	if del["operationId"] != "deletePatients" {
		t.Errorf("operationId = %v", del["operationId"])
	}
	roles, _ := del["x-roles"].([]string)
	if len(roles) != 1 || roles[0] != "ADMIN" {
		t.Errorf("x-roles = %v", del["x-roles"])
	}
	get := item["get"].(map[string]interface{})
	if _, ok := get["x-roles"]; ok {
		t.Error("open read must not list roles")
	}
}

func paramNames(op map[string]interface{}) map[string]bool {
	out := map[string]bool{}
	for _, p := range op["parameters"].([]map[string]interface{}) {
		out[p["name"].(string)] = true
	}
	return out
}

func TestGenerateSpec_ListParameters(t *testing.T) {
	paths := newTestGenerator().GenerateSpec()["paths"].(map[string]interface{})

	patients := paramNames(paths["/api/v1/patients"].(map[string]interface{})["get"].(map[string]interface{}))
	for _, want := range []string{"page", "limit", "search", "sortBy", "sortOrder", "gender", "mrns"} {
		if !patients[want] {
			t.Errorf("patients list missing %s", want)
		}
	}
	if patients["startDate"] {
		t.Error("patients have no date field")
	}

	visits := paramNames(paths["/api/v1/nephrology-visits"].(map[string]interface{})["get"].(map[string]interface{}))
	if !visits["startDate"] || !visits["endDate"] {
		t.Error("visits list missing date range")
	}
	if visits["search"] {
		t.Error("visits declare no search fields")
	}
}

func TestGenerateSpec_Schemas(t *testing.T) {
	components := newTestGenerator().GenerateSpec()["components"].(map[string]interface{})
	schemas := components["schemas"].(map[string]interface{})

	visit, ok := schemas["NephrologyVisits"].(map[string]interface{})
	if !ok {
		t.Fatal("missing NephrologyVisits schema")
	}
	props := visit["properties"].(map[string]interface{})
	if props["egfr"].(map[string]interface{})["type"] != "number" {
		t.Errorf("egfr schema = %v", props["egfr"])
	}
	if props["patientId"].(map[string]interface{})["format"] != "uuid" {
		t.Errorf("patientId schema = %v", props["patientId"])
	}
	if props["id"].(map[string]interface{})["readOnly"] != true {
		t.Error("id must be read-only")
	}
	required := visit["required"].([]string)
	if len(required) != 2 || required[0] != "patientId" || required[1] != "visitDate" {
		t.Errorf("required = %v", required)
	}
	if _, ok := schemas["Error"]; !ok {
		t.Error("missing Error schema")
	}
}

func TestAddPath(t *testing.T) {
	g := newTestGenerator()
	g.AddPath("/lab-tests/:id/reference-range", map[string]interface{}{"get": map[string]interface{}{}})
	paths := g.GenerateSpec()["paths"].(map[string]interface{})
	if _, ok := paths["/api/v1/lab-tests/{id}/reference-range"]; !ok {
		t.Error("custom path not documented")
	}
}

type anyone struct{}

func (anyone) ResolveIdentity(context.Context, string) (auth.Identity, error) {
	return auth.Identity{ID: "u1", Role: auth.RoleReceptionist, Active: true}, nil
}

func TestRegisterRoutes(t *testing.T) {
	e := echo.New()
	api := e.Group(resource.APIPrefix, auth.NewGate(anyone{}).Middleware())
	newTestGenerator().RegisterRoutes(api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/openapi.json", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer x")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc["openapi"] != "3.0.3" {
		t.Errorf("unexpected document: %v", doc["openapi"])
	}
}
