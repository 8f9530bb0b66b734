package openapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/emaalouf/HIS-sub006/internal/platform/auth"
	"github.com/emaalouf/HIS-sub006/internal/platform/query"
	"github.com/emaalouf/HIS-sub006/internal/platform/resource"
	"github.com/emaalouf/HIS-sub006/pkg/pagination"
)

// Policy guards the document route. Any authenticated identity may read it.
var Policy = auth.RoutePolicy{Method: http.MethodGet, Path: resource.APIPrefix + "/openapi.json"}

// Generator builds an OpenAPI 3.0 document from resource declarations.
type Generator struct {
	resources []resource.Resource
	extra     map[string]interface{}
	version   string
	baseURL   string
}

// NewGenerator creates a new OpenAPI document generator.
func NewGenerator(resources []resource.Resource, version, baseURL string) *Generator {
	return &Generator{resources: resources, extra: map[string]interface{}{}, version: version, baseURL: baseURL}
}

// AddPath documents a hand-written endpoint. path is relative to APIPrefix
// and uses echo's :param syntax.
func (g *Generator) AddPath(path string, item map[string]interface{}) {
	g.extra[openapiPath(resource.APIPrefix+path)] = item
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]interface{})
	schemas := map[string]interface{}{
		"Error": buildErrorSchema(),
	}
	var tags []map[string]string

	for _, res := range g.resources {
		d := res.Descriptor
		name := schemaName(res.Slug)
		schemas[name] = buildResourceSchema(d)
		tags = append(tags, map[string]string{"name": res.Slug, "description": d.Name})

		ref := "#/components/schemas/" + name
		base := resource.APIPrefix + "/" + res.Slug
		idParam := []map[string]interface{}{
			{"name": "id", "in": "path", "required": true, "schema": map[string]string{"type": "string", "format": "uuid"}},
		}

		paths[base] = map[string]interface{}{
			"get": operation(res, "list", "List "+d.Name+" records", http.MethodGet, base, map[string]interface{}{
				"parameters": buildListParameters(d),
				"responses": map[string]interface{}{
					"200": buildResponseWithSchema("Paginated list", buildPageSchema(ref)),
					"400": errorResponse("Invalid filter"),
				},
			}),
			"post": operation(res, "create", "Create a "+d.Name, http.MethodPost, base, map[string]interface{}{
				"requestBody": buildRequestBody(ref),
				"responses": map[string]interface{}{
					"201": buildResponseWithSchema("Created", map[string]interface{}{"$ref": ref}),
					"400": errorResponse("Invalid payload or reference"),
					"404": errorResponse("Referenced record not found"),
					"409": errorResponse("Duplicate value"),
				},
			}),
		}
		paths[base+"/export"] = map[string]interface{}{
			"get": operation(res, "export", "Export "+d.Name+" records", http.MethodGet, base+"/export", map[string]interface{}{
				"parameters": buildListParameters(d),
				"responses":  map[string]interface{}{"200": map[string]interface{}{"description": "XLSX workbook"}},
			}),
		}
		write := map[string]interface{}{
			"parameters":  idParam,
			"requestBody": buildRequestBody(ref),
			"responses": map[string]interface{}{
				"200": buildResponseWithSchema("Updated", map[string]interface{}{"$ref": ref}),
				"400": errorResponse("Invalid payload or reference"),
				"404": errorResponse("Not found"),
				"409": errorResponse("Duplicate value"),
			},
		}
		paths[openapiPath(base+"/:id")] = map[string]interface{}{
			"get": operation(res, "get", "Read a "+d.Name, http.MethodGet, base+"/:id", map[string]interface{}{
				"parameters": idParam,
				"responses": map[string]interface{}{
					"200": buildResponseWithSchema("Found", map[string]interface{}{"$ref": ref}),
					"404": errorResponse("Not found"),
				},
			}),
			"put":   operation(res, "update", "Update a "+d.Name, http.MethodPut, base+"/:id", write),
			"patch": operation(res, "patch", "Partially update a "+d.Name, http.MethodPatch, base+"/:id", write),
			"delete": operation(res, "delete", "Delete a "+d.Name, http.MethodDelete, base+"/:id", map[string]interface{}{
				"parameters": idParam,
				"responses": map[string]interface{}{
					"204": map[string]interface{}{"description": "Deleted"},
					"404": errorResponse("Not found"),
					"409": errorResponse("Still referenced"),
				},
			}),
		}
	}
	for p, item := range g.extra {
		paths[p] = item
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "HIS Clinical API",
			"version":     g.version,
			"description": "Clinical data management API",
		},
		"servers": []map[string]string{{"url": g.baseURL}},
		"tags":    tags,
		"paths":   paths,
		"components": map[string]interface{}{
			"schemas": schemas,
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
	}
}

// operation fills the fields shared by every generated operation. The
// roles allowed by the route policy are listed under x-roles.
func operation(res resource.Resource, verb, summary, method, path string, extra map[string]interface{}) map[string]interface{} {
	op := map[string]interface{}{
		"summary":     summary,
		"operationId": verb + schemaName(res.Slug),
		"tags":        []string{res.Slug},
	}
	if p, ok := res.Policies().Lookup(method, path); ok && len(p.Roles) > 0 {
		roles := make([]string, len(p.Roles))
		for i, r := range p.Roles {
			roles[i] = string(r)
		}
		op["x-roles"] = roles
	}
	for k, v := range extra {
		op[k] = v
	}
	return op
}

func buildListParameters(d *query.Descriptor) []map[string]interface{} {
	params := []map[string]interface{}{
		{"name": query.ParamPage, "in": "query", "schema": map[string]interface{}{"type": "integer", "minimum": 1, "default": pagination.DefaultPage}},
		{"name": query.ParamLimit, "in": "query", "schema": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": pagination.MaxLimit, "default": pagination.DefaultLimit}},
	}
	if len(d.Search) > 0 {
		params = append(params, map[string]interface{}{
			"name": query.ParamSearch, "in": "query", "schema": map[string]string{"type": "string"},
			"description": "Case-insensitive substring match on " + strings.Join(d.Search, ", "),
		})
	}
	if d.DateField != "" {
		for _, p := range []string{query.ParamStartDate, query.ParamEndDate} {
			params = append(params, map[string]interface{}{
				"name": p, "in": "query", "schema": map[string]string{"type": "string", "format": "date-time"},
				"description": "Bound on " + d.DateField,
			})
		}
	}
	if len(d.Sortable) > 0 {
		params = append(params,
			map[string]interface{}{"name": query.ParamSortBy, "in": "query", "schema": map[string]interface{}{"type": "string", "enum": d.Sortable}},
			map[string]interface{}{"name": query.ParamSortOrder, "in": "query", "schema": map[string]interface{}{"type": "string", "enum": []string{string(query.Asc), string(query.Desc)}}},
		)
	}
	for _, flt := range d.Filters {
		f, _ := d.Field(flt.Field)
		schema := fieldSchema(f)
		desc := "Exact match on " + flt.Field
		if flt.Mode == query.FilterIn {
			schema = map[string]interface{}{"type": "string"}
			desc = "Comma-separated values of " + flt.Field
		}
		params = append(params, map[string]interface{}{"name": flt.Param, "in": "query", "schema": schema, "description": desc})
	}
	return params
}

func buildRequestBody(ref string) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": ref},
			},
		},
	}
}

func buildResponseWithSchema(description string, schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

func errorResponse(description string) map[string]interface{} {
	return buildResponseWithSchema(description, map[string]interface{}{"$ref": "#/components/schemas/Error"})
}

func buildPageSchema(itemRef string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"items":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"$ref": itemRef}},
			"total":      map[string]string{"type": "integer"},
			"page":       map[string]string{"type": "integer"},
			"limit":      map[string]string{"type": "integer"},
			"totalPages": map[string]string{"type": "integer"},
			"hasMore":    map[string]string{"type": "boolean"},
		},
	}
}

func buildErrorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"error": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"code":    map[string]string{"type": "string"},
					"message": map[string]string{"type": "string"},
					"field":   map[string]string{"type": "string"},
					"details": map[string]interface{}{"type": "object", "additionalProperties": map[string]string{"type": "string"}},
				},
			},
		},
	}
}

func buildResourceSchema(d *query.Descriptor) map[string]interface{} {
	props := make(map[string]interface{}, len(d.Fields))
	var required []string
	for _, f := range d.Fields {
		s := fieldSchema(f)
		if f.ReadOnly {
			s["readOnly"] = true
		}
		props[f.Name] = s
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]interface{}{
		"type":        "object",
		"description": d.Name,
		"properties":  props,
	}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}
	return schema
}

func fieldSchema(f query.Field) map[string]interface{} {
	switch f.Kind {
	case query.KindUUID:
		return map[string]interface{}{"type": "string", "format": "uuid"}
	case query.KindEnum:
		return map[string]interface{}{"type": "string", "enum": f.Values}
	case query.KindBool:
		return map[string]interface{}{"type": "boolean"}
	case query.KindInt:
		return map[string]interface{}{"type": "integer"}
	case query.KindDecimal:
		return map[string]interface{}{"type": "number"}
	case query.KindTime:
		return map[string]interface{}{"type": "string", "format": "date-time"}
	default:
		return map[string]interface{}{"type": "string"}
	}
}

// schemaName turns a slug into a component name: "lab-results" -> "LabResults".
func schemaName(slug string) string {
	var b strings.Builder
	for _, part := range strings.Split(slug, "-") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}

// openapiPath converts echo's :param segments to {param}.
func openapiPath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}

// RegisterRoutes mounts the document on a group already running the gate.
func (g *Generator) RegisterRoutes(api *echo.Group) {
	spec := g.GenerateSpec()
	api.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, spec)
	}, auth.Require(Policy))
}
