// Package api maps FHIR REST routes onto repository operations.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fhirstack/fhirstack/internal/graphql"
	"github.com/fhirstack/fhirstack/internal/platform/fhir"
	"github.com/fhirstack/fhirstack/internal/repo"
	"github.com/fhirstack/fhirstack/internal/search"
)

type Handler struct {
	repo    *repo.Repository
	engine  *graphql.Engine
	baseURL string
	log     zerolog.Logger
}

func NewHandler(repository *repo.Repository, baseURL string, log zerolog.Logger) *Handler {
	h := &Handler{
		repo:    repository,
		baseURL: baseURL,
		log:     log.With().Str("component", "api").Logger(),
	}
	h.engine = graphql.NewEngine(&repoResolver{repo: repository, baseURL: baseURL})
	return h
}

// respondError shapes any repository error as an OperationOutcome with
// the matching HTTP status.
func respondError(c echo.Context, err error) error {
	return c.JSON(fhir.StatusForError(err), fhir.OutcomeForError(err))
}

func requester(c echo.Context) (*repo.Requester, error) {
	req := repo.RequesterFromContext(c.Request().Context())
	if req == nil {
		return nil, fhir.ErrorUnauthorized("Not authenticated")
	}
	return req, nil
}

func readBody(c echo.Context) (fhir.Resource, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil || len(body) == 0 {
		return nil, fhir.ErrorStructure("Request body is required")
	}
	resource, err := fhir.ParseResource(body)
	if err != nil {
		return nil, fhir.ErrorStructure(err.Error())
	}
	return resource, nil
}

// CreateResource handles POST /:type.
func (h *Handler) CreateResource(c echo.Context) error {
	req, err := requester(c)
	if err != nil {
		return respondError(c, err)
	}
	resource, err := readBody(c)
	if err != nil {
		return respondError(c, err)
	}
	if resource.Type() != c.Param("type") {
		return respondError(c, fhir.ErrorStructure("Body resourceType does not match URL"))
	}
	created, err := h.repo.CreateResource(c.Request().Context(), req, resource)
	if err != nil {
		return respondError(c, err)
	}
	c.Response().Header().Set("Location", h.baseURL+"/"+created.Type()+"/"+created.ID())
	return c.JSON(http.StatusCreated, created)
}

// ReadResource handles GET /:type/:id.
func (h *Handler) ReadResource(c echo.Context) error {
	req, err := requester(c)
	if err != nil {
		return respondError(c, err)
	}
	resource, err := h.repo.ReadResource(c.Request().Context(), req, c.Param("type"), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resource)
}

// ReadVersion handles GET /:type/:id/_history/:vid.
func (h *Handler) ReadVersion(c echo.Context) error {
	req, err := requester(c)
	if err != nil {
		return respondError(c, err)
	}
	resource, err := h.repo.ReadVersion(c.Request().Context(), req, c.Param("type"), c.Param("id"), c.Param("vid"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resource)
}

// ReadHistory handles GET /:type/:id/_history.
func (h *Handler) ReadHistory(c echo.Context) error {
	req, err := requester(c)
	if err != nil {
		return respondError(c, err)
	}
	bundle, err := h.repo.ReadHistory(c.Request().Context(), req, c.Param("type"), c.Param("id"), h.baseURL)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

// UpdateResource handles PUT /:type/:id.
func (h *Handler) UpdateResource(c echo.Context) error {
	req, err := requester(c)
	if err != nil {
		return respondError(c, err)
	}
	resource, err := readBody(c)
	if err != nil {
		return respondError(c, err)
	}
	if resource.Type() != c.Param("type") || resource.ID() != c.Param("id") {
		return respondError(c, fhir.ErrorStructure("Body resource does not match URL"))
	}
	updated, err := h.repo.UpdateResource(c.Request().Context(), req, resource)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteResource handles DELETE /:type/:id.
func (h *Handler) DeleteResource(c echo.Context) error {
	req, err := requester(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.repo.DeleteResource(c.Request().Context(), req, c.Param("type"), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SearchResources handles GET /:type and POST /:type/_search.
func (h *Handler) SearchResources(c echo.Context) error {
	req, err := requester(c)
	if err != nil {
		return respondError(c, err)
	}
	sr, err := search.ParseQuery(c.Param("type"), c.QueryParams())
	if err != nil {
		return respondError(c, err)
	}
	bundle, err := h.repo.Search(c.Request().Context(), req, sr, h.baseURL)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

// ProcessBundle handles POST / with a batch or transaction bundle.
func (h *Handler) ProcessBundle(c echo.Context) error {
	req, err := requester(c)
	if err != nil {
		return respondError(c, err)
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil || len(body) == 0 {
		return respondError(c, fhir.ErrorStructure("Request body is required"))
	}
	var bundle fhir.Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return respondError(c, fhir.ErrorStructure("Invalid JSON: "+err.Error()))
	}
	if bundle.ResourceType != "Bundle" {
		return respondError(c, fhir.ErrorStructure("Expected a Bundle resource"))
	}
	result, err := h.repo.ProcessBundle(c.Request().Context(), req, &bundle, h.baseURL)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ReindexType handles POST /:type/$reindex.
func (h *Handler) ReindexType(c echo.Context) error {
	req, err := requester(c)
	if err != nil {
		return respondError(c, err)
	}
	count, err := h.repo.ReindexResourceType(c.Request().Context(), req, c.Param("type"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": "Parameters",
		"parameter": []map[string]interface{}{
			{"name": "count", "valueInteger": count},
		},
	})
}

// ReindexResource handles POST /:type/:id/$reindex.
func (h *Handler) ReindexResource(c echo.Context) error {
	req, err := requester(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.repo.ReindexResource(c.Request().Context(), req, c.Param("type"), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// GraphQL handles POST /$graphql and GET /$graphql.
func (h *Handler) GraphQL(c echo.Context) error {
	if _, err := requester(c); err != nil {
		return respondError(c, err)
	}

	var req graphql.Request
	if c.Request().Method == http.MethodGet {
		req.Query = c.QueryParam("query")
	} else {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil || len(body) == 0 {
			return respondError(c, fhir.ErrorStructure("Request body is required"))
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return respondError(c, fhir.ErrorStructure("Invalid JSON: "+err.Error()))
		}
	}
	if req.Query == "" {
		return respondError(c, fhir.ErrorStructure("Query is required"))
	}
	return c.JSON(http.StatusOK, h.engine.Execute(c.Request().Context(), req))
}
