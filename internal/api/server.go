package api

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/fhirstack/fhirstack/internal/platform/db"
)

// RegisterRoutes wires the FHIR REST surface onto the echo instance. All
// resource routes sit behind the auth middleware; health does not.
func RegisterRoutes(e *echo.Echo, h *Handler, authMW echo.MiddlewareFunc, pool *pgxpool.Pool) {
	e.GET("/healthz", db.HealthHandler(pool))

	g := e.Group("/fhir/R4", authMW)

	g.POST("", h.ProcessBundle)
	g.POST("/$graphql", h.GraphQL)
	g.GET("/$graphql", h.GraphQL)

	g.GET("/:type", h.SearchResources)
	g.POST("/:type", h.CreateResource)
	g.POST("/:type/_search", h.SearchResources)
	g.POST("/:type/$reindex", h.ReindexType)

	g.GET("/:type/:id", h.ReadResource)
	g.PUT("/:type/:id", h.UpdateResource)
	g.DELETE("/:type/:id", h.DeleteResource)
	g.GET("/:type/:id/_history", h.ReadHistory)
	g.GET("/:type/:id/_history/:vid", h.ReadVersion)
	g.POST("/:type/:id/$reindex", h.ReindexResource)
}
