// Package repo is the single authorized entry point for FHIR resource
// persistence: CRUD, versioning, history, search, and the transactional
// upkeep of the search lookup tables.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/fhirstack/fhirstack/internal/accesspolicy"
	"github.com/fhirstack/fhirstack/internal/platform/db"
	"github.com/fhirstack/fhirstack/internal/platform/fhir"
	"github.com/fhirstack/fhirstack/internal/search"
)

// maxVersionsPerResource caps the version chain. Further writes fail with
// a too-many-requests outcome rather than pruning history.
const maxVersionsPerResource = 10

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Repository owns all resource persistence. Operations run against the
// ambient transaction when one is carried by the context, otherwise
// directly against the pool.
type Repository struct {
	pool         db.Pool
	registry     *search.Registry
	compiler     *search.Compiler
	queryTimeout time.Duration
	log          zerolog.Logger
}

func New(pool db.Pool, registry *search.Registry, compiler *search.Compiler, queryTimeout time.Duration, log zerolog.Logger) *Repository {
	return &Repository{
		pool:         pool,
		registry:     registry,
		compiler:     compiler,
		queryTimeout: queryTimeout,
		log:          log.With().Str("component", "repo").Logger(),
	}
}

// conn resolves the querier for the current context: the enclosing
// transaction if one is active, else the pool.
func (r *Repository) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// WithTransaction runs fn inside a database transaction. Nested calls
// share the outer connection through savepoints; an error in fn rolls
// back only the innermost scope and propagates.
func (r *Repository) WithTransaction(ctx context.Context, opts db.TxOptions, fn func(ctx context.Context) error) error {
	return mapConflict(db.WithTransaction(ctx, r.pool, opts, fn))
}

// mapConflict shapes serialization and deadlock failures from concurrent
// transactions into a conflict outcome the HTTP layer answers with 409.
func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fhir.ErrorConflict("The operation conflicted with a concurrent change and was rolled back; retry the request")
	}
	return err
}

// CreateResource stores a new resource. The id is server-assigned; only a
// privileged requester may supply one. Resource row, first version row,
// and lookup rows are written in one transaction.
func (r *Repository) CreateResource(ctx context.Context, req *Requester, resource fhir.Resource) (fhir.Resource, error) {
	resourceType := resource.Type()
	if resourceType == "" {
		return nil, fhir.ErrorStructure("Missing resourceType")
	}
	if !fhir.IsKnownResourceType(resourceType) {
		return nil, fhir.ErrorStructure("Unknown resource type: " + resourceType)
	}
	constraint, err := accesspolicy.Evaluate(req.Policy, accesspolicy.ActionCreate, resourceType)
	if err != nil {
		return nil, err
	}

	if resource.ID() != "" && !req.canAssignID() {
		return nil, fhir.ErrorInvalid("Cannot create resource with a client-assigned id")
	}
	out := resource.Clone()
	if out.ID() == "" {
		out.SetID(uuid.NewString())
	} else if !fhir.IsValidID(out.ID()) {
		return nil, fhir.ErrorInvalid("Invalid resource id: " + out.ID())
	}

	now := time.Now().UTC()
	if err := stampCreate(req, out, now); err != nil {
		return nil, err
	}
	meta := out.Meta()
	meta.VersionID = "1"
	meta.Compartment = deriveCompartments(r.registry, out)
	out.SetMeta(meta)

	if err := constraint.CheckResource(out); err != nil {
		return nil, err
	}

	err = r.WithTransaction(ctx, db.TxOptions{}, func(ctx context.Context) error {
		return r.writeVersion(ctx, out, 1, *meta.LastUpdated, false)
	})
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("resourceType", resourceType).Str("id", out.ID()).Msg("resource created")
	return out, nil
}

// UpdateResource writes a new version of an existing resource. There is
// no upsert: a missing target is not-found. Unchanged content returns the
// stored version without writing. Updating a deleted resource restores
// it.
func (r *Repository) UpdateResource(ctx context.Context, req *Requester, resource fhir.Resource) (fhir.Resource, error) {
	resourceType := resource.Type()
	if resourceType == "" {
		return nil, fhir.ErrorStructure("Missing resourceType")
	}
	id := resource.ID()
	if !fhir.IsValidID(id) {
		return nil, fhir.ErrorNotFound(resourceType, id)
	}
	constraint, err := accesspolicy.Evaluate(req.Policy, accesspolicy.ActionUpdate, resourceType)
	if err != nil {
		return nil, err
	}

	var out fhir.Resource
	err = r.WithTransaction(ctx, db.TxOptions{}, func(ctx context.Context) error {
		current, version, deleted, err := r.lockCurrent(ctx, req, resourceType, id)
		if err != nil {
			return err
		}
		if !deleted {
			if err := constraint.CheckResource(current); err != nil {
				return err
			}
			if contentUnchanged(current, resource) {
				out = current
				return nil
			}
		}

		next := resource.Clone()
		now := time.Now().UTC()
		if err := stampCreate(req, next, now); err != nil {
			return err
		}
		meta := next.Meta()
		meta.VersionID = strconv.Itoa(version + 1)
		meta.Compartment = deriveCompartments(r.registry, next)
		next.SetMeta(meta)
		if err := constraint.CheckResource(next); err != nil {
			return err
		}

		if version+1 > maxVersionsPerResource {
			return fhir.ErrorTooManyVersions(resourceType, id)
		}
		out = next
		return r.writeVersion(ctx, next, version+1, *meta.LastUpdated, false)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteResource appends a tombstone version. Reads afterwards return a
// Gone outcome; history keeps every prior version.
func (r *Repository) DeleteResource(ctx context.Context, req *Requester, resourceType, id string) error {
	if !fhir.IsValidID(id) {
		return fhir.ErrorNotFound(resourceType, id)
	}
	constraint, err := accesspolicy.Evaluate(req.Policy, accesspolicy.ActionDelete, resourceType)
	if err != nil {
		return err
	}

	return r.WithTransaction(ctx, db.TxOptions{}, func(ctx context.Context) error {
		current, version, deleted, err := r.lockCurrent(ctx, req, resourceType, id)
		if err != nil {
			return err
		}
		if deleted {
			return nil
		}
		if err := constraint.CheckResource(current); err != nil {
			return err
		}
		if version+1 > maxVersionsPerResource {
			return fhir.ErrorTooManyVersions(resourceType, id)
		}

		now := time.Now().UTC()
		tombstone := current.Clone()
		meta := tombstone.Meta()
		meta.VersionID = strconv.Itoa(version + 1)
		meta.LastUpdated = &now
		tombstone.SetMeta(meta)
		return r.writeVersion(ctx, tombstone, version+1, now, true)
	})
}

// ReadResource returns the current version of a resource. Deleted
// resources yield a Gone outcome; ids outside the requester's project are
// indistinguishable from missing ones.
func (r *Repository) ReadResource(ctx context.Context, req *Requester, resourceType, id string) (fhir.Resource, error) {
	if !fhir.IsValidID(id) {
		return nil, fhir.ErrorNotFound(resourceType, id)
	}
	constraint, err := accesspolicy.Evaluate(req.Policy, accesspolicy.ActionRead, resourceType)
	if err != nil {
		return nil, err
	}

	sql := `SELECT content, deleted, last_updated FROM resource WHERE resource_type = $1 AND id = $2`
	args := []interface{}{resourceType, id}
	if !req.Privileged {
		sql += ` AND project_id = $3`
		args = append(args, req.ProjectID)
	}

	var content []byte
	var deleted bool
	var lastUpdated time.Time
	err = r.conn(ctx).QueryRow(ctx, sql, args...).Scan(&content, &deleted, &lastUpdated)
	if err == pgx.ErrNoRows {
		return nil, fhir.ErrorNotFound(resourceType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", resourceType, id, err)
	}
	if deleted {
		return nil, fhir.ErrorGone(resourceType, id, lastUpdated.Format(time.RFC3339))
	}

	var resource fhir.Resource
	if err := json.Unmarshal(content, &resource); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", resourceType, id, err)
	}
	if err := constraint.CheckResource(resource); err != nil {
		return nil, err
	}
	return resource, nil
}

// ReadVersion returns one historical version of a resource.
func (r *Repository) ReadVersion(ctx context.Context, req *Requester, resourceType, id, versionID string) (fhir.Resource, error) {
	if !fhir.IsValidID(id) {
		return nil, fhir.ErrorNotFound(resourceType, id)
	}
	version, err := strconv.Atoi(versionID)
	if err != nil || version < 1 {
		return nil, fhir.ErrorNotFound(resourceType, id)
	}
	constraint, err := accesspolicy.Evaluate(req.Policy, accesspolicy.ActionRead, resourceType)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := r.currentRow(ctx, req, resourceType, id); err != nil {
		if !fhir.IsGone(err) {
			return nil, err
		}
	}

	var content []byte
	var deleted bool
	var lastUpdated time.Time
	err = r.conn(ctx).QueryRow(ctx,
		`SELECT content, deleted, last_updated FROM resource_history
		 WHERE resource_type = $1 AND resource_id = $2 AND version_id = $3`,
		resourceType, id, version).Scan(&content, &deleted, &lastUpdated)
	if err == pgx.ErrNoRows {
		return nil, fhir.ErrorNotFound(resourceType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read version %s/%s/%d: %w", resourceType, id, version, err)
	}
	if deleted {
		return nil, fhir.ErrorGone(resourceType, id, lastUpdated.Format(time.RFC3339))
	}

	var resource fhir.Resource
	if err := json.Unmarshal(content, &resource); err != nil {
		return nil, fmt.Errorf("decode version %s/%s/%d: %w", resourceType, id, version, err)
	}
	if err := constraint.CheckResource(resource); err != nil {
		return nil, err
	}
	return resource, nil
}

// ReadHistory returns all versions of a resource newest first as a
// history bundle. Tombstones appear as entries with a deleted marker in
// place of a body.
func (r *Repository) ReadHistory(ctx context.Context, req *Requester, resourceType, id, baseURL string) (*fhir.Bundle, error) {
	if !fhir.IsValidID(id) {
		return nil, fhir.ErrorNotFound(resourceType, id)
	}
	if _, err := accesspolicy.Evaluate(req.Policy, accesspolicy.ActionRead, resourceType); err != nil {
		return nil, err
	}
	if _, _, _, err := r.currentRow(ctx, req, resourceType, id); err != nil {
		if !fhir.IsGone(err) {
			return nil, err
		}
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT version_id, content, deleted, last_updated FROM resource_history
		 WHERE resource_type = $1 AND resource_id = $2 ORDER BY version_id DESC`,
		resourceType, id)
	if err != nil {
		return nil, fmt.Errorf("read history %s/%s: %w", resourceType, id, err)
	}
	defer rows.Close()

	var entries []fhir.BundleEntry
	for rows.Next() {
		var version int
		var content []byte
		var deleted bool
		var lastUpdated time.Time
		if err := rows.Scan(&version, &content, &deleted, &lastUpdated); err != nil {
			return nil, fmt.Errorf("scan history %s/%s: %w", resourceType, id, err)
		}
		lm := lastUpdated
		entry := fhir.BundleEntry{
			FullURL: fmt.Sprintf("%s/%s/%s/_history/%d", baseURL, resourceType, id, version),
			Response: &fhir.BundleResponse{
				Status:       "200 OK",
				ETag:         fmt.Sprintf(`W/"%d"`, version),
				LastModified: &lm,
			},
		}
		if deleted {
			entry.Response.Status = "410 Gone"
			entry.Response.Outcome = fhir.NewOperationOutcome(
				fhir.IssueSeverityInformation, fhir.IssueTypeDeleted,
				"Deleted on "+lastUpdated.Format(time.RFC3339))
			entry.Request = &fhir.BundleRequest{Method: "DELETE", URL: resourceType + "/" + id}
		} else {
			entry.Resource = content
			method := "PUT"
			if version == 1 {
				method = "POST"
			}
			entry.Request = &fhir.BundleRequest{Method: method, URL: resourceType + "/" + id}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fhir.ErrorNotFound(resourceType, id)
	}
	return fhir.NewHistoryBundle(entries, len(entries)), nil
}

// ReindexResourceType rebuilds all lookup table rows for one resource
// type from the stored bodies. Privileged only; resource history is not
// touched.
func (r *Repository) ReindexResourceType(ctx context.Context, req *Requester, resourceType string) (int, error) {
	if !req.Privileged {
		return 0, fhir.ErrorForbidden("Reindex requires a privileged identity")
	}
	count := 0
	err := r.WithTransaction(ctx, db.TxOptions{Isolation: db.IsolationReadCommitted}, func(ctx context.Context) error {
		rows, err := r.conn(ctx).Query(ctx,
			`SELECT id, content FROM resource WHERE resource_type = $1 AND deleted = FALSE`, resourceType)
		if err != nil {
			return fmt.Errorf("reindex %s: %w", resourceType, err)
		}
		type row struct {
			id      string
			content []byte
		}
		var all []row
		for rows.Next() {
			var rw row
			if err := rows.Scan(&rw.id, &rw.content); err != nil {
				rows.Close()
				return err
			}
			all = append(all, rw)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, rw := range all {
			var resource fhir.Resource
			if err := json.Unmarshal(rw.content, &resource); err != nil {
				return fmt.Errorf("decode %s/%s: %w", resourceType, rw.id, err)
			}
			idx := extractIndexRows(r.registry, resource)
			if err := writeIndexRows(ctx, r.conn(ctx), resourceType, rw.id, idx); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.log.Info().Str("resourceType", resourceType).Int("count", count).Msg("reindex complete")
	return count, nil
}

// ReindexResource rebuilds the lookup table rows for one resource.
func (r *Repository) ReindexResource(ctx context.Context, req *Requester, resourceType, id string) error {
	if !req.Privileged {
		return fhir.ErrorForbidden("Reindex requires a privileged identity")
	}
	resource, err := r.ReadResource(ctx, req, resourceType, id)
	if err != nil {
		return err
	}
	return r.WithTransaction(ctx, db.TxOptions{}, func(ctx context.Context) error {
		idx := extractIndexRows(r.registry, resource)
		return writeIndexRows(ctx, r.conn(ctx), resourceType, id, idx)
	})
}

// lockCurrent reads the current row FOR UPDATE within the ambient
// transaction.
func (r *Repository) lockCurrent(ctx context.Context, req *Requester, resourceType, id string) (fhir.Resource, int, bool, error) {
	sql := `SELECT content, version_id, deleted FROM resource WHERE resource_type = $1 AND id = $2`
	args := []interface{}{resourceType, id}
	if !req.Privileged {
		sql += ` AND project_id = $3`
		args = append(args, req.ProjectID)
	}
	sql += ` FOR UPDATE`

	var content []byte
	var version int
	var deleted bool
	err := r.conn(ctx).QueryRow(ctx, sql, args...).Scan(&content, &version, &deleted)
	if err == pgx.ErrNoRows {
		return nil, 0, false, fhir.ErrorNotFound(resourceType, id)
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("lock %s/%s: %w", resourceType, id, err)
	}
	var resource fhir.Resource
	if err := json.Unmarshal(content, &resource); err != nil {
		return nil, 0, false, fmt.Errorf("decode %s/%s: %w", resourceType, id, err)
	}
	return resource, version, deleted, nil
}

// currentRow checks existence and deletion state without locking.
func (r *Repository) currentRow(ctx context.Context, req *Requester, resourceType, id string) (int, bool, time.Time, error) {
	sql := `SELECT version_id, deleted, last_updated FROM resource WHERE resource_type = $1 AND id = $2`
	args := []interface{}{resourceType, id}
	if !req.Privileged {
		sql += ` AND project_id = $3`
		args = append(args, req.ProjectID)
	}
	var version int
	var deleted bool
	var lastUpdated time.Time
	err := r.conn(ctx).QueryRow(ctx, sql, args...).Scan(&version, &deleted, &lastUpdated)
	if err == pgx.ErrNoRows {
		return 0, false, time.Time{}, fhir.ErrorNotFound(resourceType, id)
	}
	if err != nil {
		return 0, false, time.Time{}, err
	}
	if deleted {
		return version, true, lastUpdated, fhir.ErrorGone(resourceType, id, lastUpdated.Format(time.RFC3339))
	}
	return version, false, lastUpdated, nil
}

// writeVersion upserts the current row, appends the history row, and
// rewrites the lookup rows. Must run inside a transaction.
func (r *Repository) writeVersion(ctx context.Context, resource fhir.Resource, version int, lastUpdated time.Time, deleted bool) error {
	q := r.conn(ctx)
	resourceType := resource.Type()
	id := resource.ID()
	meta := resource.Meta()

	content, err := json.Marshal(resource)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", resourceType, id, err)
	}
	compartments := make([]string, 0, len(meta.Compartment))
	for _, c := range meta.Compartment {
		compartments = append(compartments, c.Reference)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO resource (resource_type, id, version_id, content, last_updated, project_id, deleted, compartments)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (resource_type, id) DO UPDATE SET
		   version_id = EXCLUDED.version_id,
		   content = EXCLUDED.content,
		   last_updated = EXCLUDED.last_updated,
		   deleted = EXCLUDED.deleted,
		   compartments = EXCLUDED.compartments`,
		resourceType, id, version, content, lastUpdated, meta.Project, deleted, compartments)
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", resourceType, id, err)
	}

	historyContent := content
	if deleted {
		historyContent = nil
	}
	_, err = q.Exec(ctx,
		`INSERT INTO resource_history (resource_type, resource_id, version_id, content, last_updated, project_id, deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		resourceType, id, version, historyContent, lastUpdated, meta.Project, deleted)
	if err != nil {
		return fmt.Errorf("write history %s/%s: %w", resourceType, id, err)
	}

	idx := indexRows{}
	if !deleted {
		idx = extractIndexRows(r.registry, resource)
	}
	return writeIndexRows(ctx, q, resourceType, id, idx)
}
