// Command check_openapi verifies that api/openapi.yaml documents exactly the
// routes the HTTP server registers and that its error schemas match the
// JSON the server writes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"studiumai/internal/app"
	"studiumai/internal/server"
	"studiumai/internal/storage"
	"studiumai/internal/store"
	"studiumai/pkg/auth"
)

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"patch": true, "head": true, "options": true, "trace": true,
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	if err := check(os.Args[1]); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func check(path string) error {
	doc, err := loadDoc(path)
	if err != nil {
		return err
	}

	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	detail, err := getSchema(doc, "ValidationDetail")
	if err != nil {
		return err
	}
	if err := validateValidationDetail(detail); err != nil {
		return err
	}

	routes, err := serverRoutes()
	if err != nil {
		return err
	}
	return compareRoutes(documentedRoutes(doc), routes)
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	if !makeSet(s.Required)["error"] {
		return errors.New(`ErrorResponse.required must include "error"`)
	}
	for _, field := range []string{"error", "code"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	detailsProp, ok := s.Properties["details"]
	if !ok || detailsProp.Type != "array" {
		return errors.New("ErrorResponse.details must be array")
	}
	if detailsProp.Items == nil || strings.TrimSpace(detailsProp.Items.Ref) != "#/components/schemas/ValidationDetail" {
		return errors.New("ErrorResponse.details.items must reference ValidationDetail")
	}
	return nil
}

func validateValidationDetail(s schema) error {
	if s.Type != "object" {
		return errors.New("ValidationDetail must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"field", "message"} {
		if !required[field] {
			return fmt.Errorf("ValidationDetail.required must include %q", field)
		}
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ValidationDetail.%s must be string", field)
		}
	}
	return nil
}

func documentedRoutes(doc openAPIDoc) []string {
	var out []string
	for path, item := range doc.Paths {
		for key := range item {
			if httpMethods[strings.ToLower(key)] {
				out = append(out, strings.ToUpper(key)+" "+path)
			}
		}
	}
	sort.Strings(out)
	return out
}

// serverRoutes builds the router over in-memory collaborators and lists its
// routes. Legacy /api aliases of /api/v1 routes are folded away.
func serverRoutes() ([]string, error) {
	dir, err := os.MkdirTemp("", "studium-routes-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	blobs, err := storage.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenManager(auth.TokenConfig{Secret: "route-check"})
	if err != nil {
		return nil, err
	}
	core, err := app.New(app.Config{
		Store:     store.NewMemoryStore(),
		Blobs:     blobs,
		Tokens:    tokens,
		Generator: noopGenerator{},
	})
	if err != nil {
		return nil, err
	}
	srv, err := server.New(server.Config{App: core})
	if err != nil {
		return nil, err
	}
	defer srv.Close()
	routes, err := srv.Routes()
	if err != nil {
		return nil, err
	}

	registered := make(map[string]bool, len(routes))
	for _, r := range routes {
		registered[r.Method+" "+r.Pattern] = true
	}
	var out []string
	for _, r := range routes {
		if rest, ok := strings.CutPrefix(r.Pattern, "/api/"); ok && !strings.HasPrefix(rest, "v1/") {
			if registered[r.Method+" /api/v1/"+rest] {
				continue
			}
		}
		out = append(out, r.Method+" "+r.Pattern)
	}
	sort.Strings(out)
	return out, nil
}

func compareRoutes(documented, registered []string) error {
	doc := makeSet(documented)
	reg := makeSet(registered)
	var missing, stale []string
	for route := range reg {
		if !doc[route] {
			missing = append(missing, route)
		}
	}
	for route := range doc {
		if !reg[route] {
			stale = append(stale, route)
		}
	}
	sort.Strings(missing)
	sort.Strings(stale)
	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("undocumented routes: %s", strings.Join(missing, ", ")))
	}
	if len(stale) > 0 {
		errs = append(errs, fmt.Errorf("documented routes not served: %s", strings.Join(stale, ", ")))
	}
	return errors.Join(errs...)
}

type noopGenerator struct{}

func (noopGenerator) GenerateText(context.Context, string, string) (string, error) {
	return "", errors.New("route check does not generate text")
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
