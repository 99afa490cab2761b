package storage

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
)

// maxInClause bounds the number of ids bound into one IN (...) list.
const maxInClause = 500

const recordColumns = `id, base_id, version_id, major, minor, revision, modification_type, content, created_by, created_at`

// LookupIndex holds, per base entity id, the entity's version records up to
// some project version in ascending version order.
type LookupIndex[T any] map[string][]*models.VersionRecord[T]

func (idx LookupIndex[T]) put(rec *models.VersionRecord[T]) {
	if idx == nil {
		return
	}
	history := idx[rec.BaseID]
	for i, r := range history {
		if r.Version.SameTriple(rec.Version) {
			history[i] = rec
			return
		}
	}
	idx[rec.BaseID] = append(history, rec)
}

func (idx LookupIndex[T]) drop(rec *models.VersionRecord[T]) {
	if idx == nil {
		return
	}
	history := idx[rec.BaseID]
	for i, r := range history {
		if r.ID == rec.ID {
			idx[rec.BaseID] = append(history[:i:i], history[i+1:]...)
			return
		}
	}
}

// resolve returns the record with the greatest version <= pv, or nil.
func resolve[T any](history []*models.VersionRecord[T], pv models.ProjectVersion) *models.VersionRecord[T] {
	var found *models.VersionRecord[T]
	for _, r := range history {
		if r.Version.IsLessThanOrEqualTo(pv) && (found == nil || r.Version.IsGreaterThan(found.Version)) {
			found = r
		}
	}
	return found
}

// split returns the state resolved strictly before pv and the record
// written at pv itself, either of which may be nil.
func split[T any](history []*models.VersionRecord[T], pv models.ProjectVersion) (before, at *models.VersionRecord[T]) {
	for _, r := range history {
		switch {
		case r.Version.SameTriple(pv):
			at = r
		case r.Version.IsLessThan(pv) && (before == nil || r.Version.IsGreaterThan(before.Version)):
			before = r
		}
	}
	return before, at
}

// VersionedStore stores the version records of one entity kind of a project.
// It is bound either to the project database or to one transaction.
type VersionedStore[T any] struct {
	q         querier
	projectID string
	kind      EntityKind[T]
	logger    logrus.FieldLogger
}

func newVersionedStore[T any](q querier, projectID string, kind EntityKind[T], logger logrus.FieldLogger) *VersionedStore[T] {
	return &VersionedStore[T]{
		q:         q,
		projectID: projectID,
		kind:      kind,
		logger:    logger.WithField("kind", kind.Kind()),
	}
}

func (s *VersionedStore[T]) withQuerier(q querier) *VersionedStore[T] {
	c := *s
	c.q = q
	return &c
}

// Kind returns the entity kind stored.
func (s *VersionedStore[T]) Kind() models.EntityKind {
	return s.kind.Kind()
}

func (s *VersionedStore[T]) checkVersion(pv models.ProjectVersion) error {
	if pv.ProjectID != "" && pv.ProjectID != s.projectID {
		return errors.Wrapf(models.ErrCrossProject, "version %s of project %s used on project %s", pv, pv.ProjectID, s.projectID)
	}
	return nil
}

func (s *VersionedStore[T]) checkCommitVersion(pv models.ProjectVersion) error {
	if err := s.checkVersion(pv); err != nil {
		return err
	}
	if pv.ID == "" {
		return errors.Wrapf(ErrNotFound, "version %s was never created", pv)
	}
	return nil
}

// --- reads ---

// EntitiesAtVersion returns every entity present at pv, ordered by label.
func (s *VersionedStore[T]) EntitiesAtVersion(ctx context.Context, pv models.ProjectVersion) ([]T, error) {
	if err := s.checkVersion(pv); err != nil {
		return nil, err
	}
	idx, err := s.recordsUpTo(ctx, pv, nil)
	if err != nil {
		return nil, err
	}
	entities := make([]T, 0, len(idx))
	for _, history := range idx {
		if rec := resolve(history, pv); rec.Present() {
			entities = append(entities, rec.Entity)
		}
	}
	s.sortEntities(entities)
	return entities, nil
}

// EntitiesAtProject returns every version record ever written for this kind,
// grouped by base entity in version order.
func (s *VersionedStore[T]) EntitiesAtProject(ctx context.Context) ([]models.VersionRecord[T], error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM entity_versions WHERE kind = ? ORDER BY base_id, major, minor, revision`,
		s.kind.Kind(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query version records")
	}
	defer rows.Close()

	var records []models.VersionRecord[T]
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// EntityAtVersion resolves one base entity at pv. It returns nil when the
// entity does not exist at pv or was removed, and ErrNotFound when the base
// entity is unknown to the project.
func (s *VersionedStore[T]) EntityAtVersion(ctx context.Context, pv models.ProjectVersion, baseID string) (*models.VersionRecord[T], error) {
	if err := s.checkVersion(pv); err != nil {
		return nil, err
	}
	ok, err := s.baseExists(ctx, baseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s %s", s.kind.Kind(), baseID)
	}
	rec, err := s.entityAt(ctx, pv, baseID)
	if err != nil || !rec.Present() {
		return nil, err
	}
	return rec, nil
}

// entityAt returns the record resolved at pv, tombstones included.
func (s *VersionedStore[T]) entityAt(ctx context.Context, pv models.ProjectVersion, baseID string) (*models.VersionRecord[T], error) {
	idx, err := s.recordsUpTo(ctx, pv, []string{baseID})
	if err != nil {
		return nil, err
	}
	return resolve(idx[baseID], pv), nil
}

// History returns every record of one base entity in version order.
func (s *VersionedStore[T]) History(ctx context.Context, baseID string) ([]models.VersionRecord[T], error) {
	ok, err := s.baseExists(ctx, baseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s %s", s.kind.Kind(), baseID)
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM entity_versions WHERE base_id = ? ORDER BY major, minor, revision`,
		baseID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	var records []models.VersionRecord[T]
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// BuildLookupIndex loads the records up to pv of the given base entities in
// one pass, so a batch commit resolves previous states without a query per
// entity. A nil baseIDs loads every base entity of the kind.
func (s *VersionedStore[T]) BuildLookupIndex(ctx context.Context, pv models.ProjectVersion, baseIDs []string) (LookupIndex[T], error) {
	if err := s.checkVersion(pv); err != nil {
		return nil, err
	}
	return s.recordsUpTo(ctx, pv, baseIDs)
}

// CountInVersion counts the entities present at pv.
func (s *VersionedStore[T]) CountInVersion(ctx context.Context, pv models.ProjectVersion) (int, error) {
	if err := s.checkVersion(pv); err != nil {
		return 0, err
	}
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT modification_type,
			       ROW_NUMBER() OVER (PARTITION BY base_id ORDER BY major DESC, minor DESC, revision DESC) AS rn
			FROM entity_versions
			WHERE kind = ? AND (major, minor, revision) <= (?, ?, ?)
		) WHERE rn = 1 AND modification_type != 'removed'`,
		s.kind.Kind(), pv.Major, pv.Minor, pv.Revision,
	).Scan(&n)
	return n, errors.Wrap(err, "count entities")
}

// Delta compares the resolved states at baseline and target.
func (s *VersionedStore[T]) Delta(ctx context.Context, baseline, target models.ProjectVersion) (models.EntityDelta[T], error) {
	var delta models.EntityDelta[T]
	if _, err := models.CompareVersions(baseline, target); err != nil {
		return delta, err
	}
	if err := s.checkVersion(baseline); err != nil {
		return delta, err
	}
	upper := target
	if baseline.IsGreaterThan(target) {
		upper = baseline
	}
	idx, err := s.recordsUpTo(ctx, upper, nil)
	if err != nil {
		return delta, err
	}

	for _, history := range idx {
		before, after := resolve(history, baseline), resolve(history, target)
		switch {
		case after.Present() && !before.Present():
			delta.Added = append(delta.Added, after.Entity)
		case after.Present() && before.Present():
			if !s.kind.Equal(before.Entity, after.Entity) {
				delta.Modified = append(delta.Modified, after.Entity)
			}
		case before.Present():
			delta.Removed = append(delta.Removed, before.Entity)
		}
	}
	s.sortEntities(delta.Added)
	s.sortEntities(delta.Modified)
	s.sortEntities(delta.Removed)
	return delta, nil
}

// Search runs a full-text query and returns the entities present at pv
// whose resolved state matches it.
func (s *VersionedStore[T]) Search(ctx context.Context, pv models.ProjectVersion, query string) ([]T, error) {
	if err := s.checkVersion(pv); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT ev.id, ev.base_id FROM entity_versions ev
		 JOIN entity_versions_fts ON entity_versions_fts.rowid = ev.rowid
		 WHERE entity_versions_fts MATCH ? AND ev.kind = ? AND (ev.major, ev.minor, ev.revision) <= (?, ?, ?)`,
		query, s.kind.Kind(), pv.Major, pv.Minor, pv.Revision,
	)
	if err != nil {
		return nil, errors.Wrap(err, "search fts")
	}
	matched := make(map[string]bool)
	var baseIDs []string
	for rows.Next() {
		var recID, baseID string
		if err := rows.Scan(&recID, &baseID); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan search hit")
		}
		matched[recID] = true
		baseIDs = append(baseIDs, baseID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(baseIDs) == 0 {
		return nil, nil
	}

	idx, err := s.recordsUpTo(ctx, pv, baseIDs)
	if err != nil {
		return nil, err
	}
	var found []T
	for _, history := range idx {
		// Older records may match text the entity no longer carries.
		if rec := resolve(history, pv); rec.Present() && matched[rec.ID] {
			found = append(found, rec.Entity)
		}
	}
	s.sortEntities(found)
	return found, nil
}

// --- commits ---

// CommitOne records the state of one entity at pv. A new base entity gets an
// Added record, a changed one a Modified record, and an unchanged one no
// record at all. Entity-level failures are returned in the result; the
// error is reserved for failures that must abort the whole commit.
func (s *VersionedStore[T]) CommitOne(ctx context.Context, pv models.ProjectVersion, entity T, actor string, idx LookupIndex[T]) (models.CommitResult[T], error) {
	prepared, err := s.kind.Prepare(ctx, s.q, pv, entity)
	if err != nil {
		return s.rejectOrFail(pv, entity, err)
	}
	key := s.kind.Key(prepared)
	live, dormant, err := s.keyOwners(ctx, pv, key)
	if err != nil {
		return models.CommitResult[T]{}, err
	}

	baseID := s.kind.ID(prepared)
	switch {
	case baseID != "":
		ok, err := s.baseExists(ctx, baseID)
		if err != nil {
			return models.CommitResult[T]{}, err
		}
		if !ok {
			return s.reject(pv, prepared, "unknown %s id %s", s.kind.Kind(), baseID), nil
		}
		if live != "" && live != baseID {
			return s.reject(pv, prepared, "%s %q already exists at version %s as %s", s.kind.Kind(), key, pv, live), nil
		}
	case live != "":
		baseID = live
	default:
		baseID = dormant
	}

	var history []*models.VersionRecord[T]
	if baseID != "" {
		if history, err = s.historyFor(ctx, pv, baseID, idx); err != nil {
			return models.CommitResult[T]{}, err
		}
	}
	before, at := split(history, pv)
	current := at
	if current == nil {
		current = before
	}
	if current.Present() && s.kind.Equal(current.Entity, prepared) {
		return models.CommitResult[T]{}, nil
	}

	if at != nil && before.Present() && s.kind.Equal(before.Entity, prepared) {
		// Back to the state before pv: retract the same-version change.
		if _, err := s.q.ExecContext(ctx, `DELETE FROM entity_versions WHERE id = ?`, at.ID); err != nil {
			return models.CommitResult[T]{}, errors.Wrap(err, "retract version record")
		}
		idx.drop(at)
		s.logger.WithFields(logrus.Fields{"base_id": baseID, "version": pv.String()}).Debug("same-version change retracted")
		return models.CommitResult[T]{}, nil
	}

	mod := models.Modified
	if !before.Present() {
		mod = models.Added
	}
	created := baseID == ""
	if created {
		if baseID, err = s.createBase(ctx, key); err != nil {
			return s.rejectOrFail(pv, prepared, err)
		}
	}

	rec := &models.VersionRecord[T]{
		ID:               uuid.NewString(),
		BaseID:           baseID,
		Kind:             s.kind.Kind(),
		Version:          pv,
		ModificationType: mod,
		Entity:           s.kind.WithID(prepared, baseID),
		CreatedBy:        actor,
		CreatedAt:        now(),
	}
	if at != nil {
		rec.ID = at.ID
	}
	if err := s.writeRecord(ctx, rec, at != nil); err != nil {
		if created {
			if derr := s.dropBase(ctx, baseID); derr != nil {
				return models.CommitResult[T]{}, derr
			}
		}
		return s.rejectOrFail(pv, prepared, err)
	}
	if !created {
		if err := s.rekeyBase(ctx, baseID, key, pv); err != nil {
			return models.CommitResult[T]{}, err
		}
	}
	if err := s.kind.AfterCommit(ctx, s.q, rec); err != nil {
		return models.CommitResult[T]{}, err
	}
	idx.put(rec)
	return models.CommitResult[T]{Record: rec}, nil
}

// CommitDeletion writes a tombstone for baseID at pv. Entities that are
// absent or already removed at pv are left alone.
func (s *VersionedStore[T]) CommitDeletion(ctx context.Context, pv models.ProjectVersion, baseID, actor string, idx LookupIndex[T]) (models.CommitResult[T], error) {
	history, err := s.historyFor(ctx, pv, baseID, idx)
	if err != nil {
		return models.CommitResult[T]{}, err
	}
	before, at := split(history, pv)
	current := at
	if current == nil {
		current = before
	}
	if !current.Present() {
		return models.CommitResult[T]{}, nil
	}

	var zero T
	rec := &models.VersionRecord[T]{
		ID:               uuid.NewString(),
		BaseID:           baseID,
		Kind:             s.kind.Kind(),
		Version:          pv,
		ModificationType: models.Removed,
		Entity:           s.kind.WithID(zero, baseID),
		CreatedBy:        actor,
		CreatedAt:        now(),
	}
	if at != nil {
		rec.ID = at.ID
	}
	if err := s.writeRecord(ctx, rec, at != nil); err != nil {
		return s.rejectOrFail(pv, current.Entity, err)
	}
	if err := s.kind.AfterCommit(ctx, s.q, rec); err != nil {
		return models.CommitResult[T]{}, err
	}
	idx.put(rec)
	return models.CommitResult[T]{Record: rec}, nil
}

// CommitBatch commits entities at pv against one lookup index. With
// asCompleteSet the batch is the entire truth for pv: every entity present
// at pv but not in the batch is tombstoned.
//
// One result is returned per input entity, in order, followed by the
// synthesized deletions.
func (s *VersionedStore[T]) CommitBatch(ctx context.Context, pv models.ProjectVersion, entities []T, asCompleteSet bool, actor string) ([]models.CommitResult[T], error) {
	if err := s.checkCommitVersion(pv); err != nil {
		return nil, err
	}

	touched := make(map[string]bool)
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		id, err := s.lookupBase(ctx, pv, e)
		if err != nil {
			return nil, err
		}
		if id != "" {
			touched[id] = true
			ids = append(ids, id)
		}
	}

	var scope []string
	if !asCompleteSet {
		scope = ids
	}
	idx, err := s.BuildLookupIndex(ctx, pv, scope)
	if err != nil {
		return nil, err
	}

	results := make([]models.CommitResult[T], 0, len(entities))
	for _, e := range entities {
		res, err := s.CommitOne(ctx, pv, e, actor, idx)
		if err != nil {
			return nil, err
		}
		if res.Record != nil {
			touched[res.Record.BaseID] = true
		}
		results = append(results, res)
	}
	if !asCompleteSet {
		return results, nil
	}

	stale := make([]string, 0)
	for id := range idx {
		if !touched[id] {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	for _, id := range stale {
		res, err := s.CommitDeletion(ctx, pv, id, actor, idx)
		if err != nil {
			return nil, err
		}
		if res.Record != nil || res.Err != nil {
			results = append(results, res)
		}
	}
	return results, nil
}

// CommitRemovals tombstones the given entities at pv. Entities are matched
// by id, or by natural key when they carry none.
func (s *VersionedStore[T]) CommitRemovals(ctx context.Context, pv models.ProjectVersion, entities []T, actor string) ([]models.CommitResult[T], error) {
	if err := s.checkCommitVersion(pv); err != nil {
		return nil, err
	}

	ids := make([]string, len(entities))
	results := make([]models.CommitResult[T], len(entities))
	for i, e := range entities {
		id, err := s.lookupBase(ctx, pv, e)
		if err != nil {
			return nil, err
		}
		if id == "" {
			results[i] = s.reject(pv, e, "cannot remove unknown %s", s.kind.Kind())
			continue
		}
		ids[i] = id
	}

	idx, err := s.BuildLookupIndex(ctx, pv, nonEmpty(ids))
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if id == "" {
			continue
		}
		res, err := s.CommitDeletion(ctx, pv, id, actor, idx)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// --- helpers ---

func (s *VersionedStore[T]) historyFor(ctx context.Context, pv models.ProjectVersion, baseID string, idx LookupIndex[T]) ([]*models.VersionRecord[T], error) {
	if history, ok := idx[baseID]; ok {
		return history, nil
	}
	live, err := s.recordsUpTo(ctx, pv, []string{baseID})
	if err != nil {
		return nil, err
	}
	if idx != nil {
		idx[baseID] = live[baseID]
	}
	return live[baseID], nil
}

// lookupBase finds the base entity e refers to, or "" when there is none.
func (s *VersionedStore[T]) lookupBase(ctx context.Context, pv models.ProjectVersion, e T) (string, error) {
	if id := s.kind.ID(e); id != "" {
		ok, err := s.baseExists(ctx, id)
		if err != nil || !ok {
			return "", err
		}
		return id, nil
	}
	key, err := s.kind.Identify(ctx, s.q, pv, e)
	if err != nil {
		if _, ok := isRejection(err); ok {
			return "", nil
		}
		return "", err
	}
	return s.baseAt(ctx, pv, key)
}

func (s *VersionedStore[T]) recordsUpTo(ctx context.Context, pv models.ProjectVersion, baseIDs []string) (LookupIndex[T], error) {
	idx := make(LookupIndex[T])
	query := `SELECT ` + recordColumns + ` FROM entity_versions
		WHERE kind = ? AND (major, minor, revision) <= (?, ?, ?)`
	const order = ` ORDER BY base_id, major, minor, revision`
	args := []any{s.kind.Kind(), pv.Major, pv.Minor, pv.Revision}

	if baseIDs == nil {
		return idx, s.loadRecords(ctx, idx, query+order, args)
	}
	unique := dedupe(baseIDs)
	for start := 0; start < len(unique); start += maxInClause {
		chunk := unique[start:min(start+maxInClause, len(unique))]
		chunkArgs := append(append([]any{}, args...), toArgs(chunk)...)
		q := query + ` AND base_id IN (` + placeholders(len(chunk)) + `)` + order
		if err := s.loadRecords(ctx, idx, q, chunkArgs); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (s *VersionedStore[T]) loadRecords(ctx context.Context, idx LookupIndex[T], query string, args []any) error {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "query version records")
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return err
		}
		idx[rec.BaseID] = append(idx[rec.BaseID], rec)
	}
	return rows.Err()
}

func (s *VersionedStore[T]) scanRecord(rows *sql.Rows) (*models.VersionRecord[T], error) {
	var (
		rec     models.VersionRecord[T]
		mod     string
		content []byte
	)
	err := rows.Scan(&rec.ID, &rec.BaseID, &rec.Version.ID, &rec.Version.Major, &rec.Version.Minor,
		&rec.Version.Revision, &mod, &content, &rec.CreatedBy, &rec.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "scan version record")
	}
	rec.Kind = s.kind.Kind()
	rec.ModificationType = models.ModificationType(mod)
	rec.Version.ProjectID = s.projectID
	if len(content) > 0 {
		if err := msgpack.Unmarshal(content, &rec.Entity); err != nil {
			return nil, errors.Wrapf(err, "decode version record %s", rec.ID)
		}
	}
	rec.Entity = s.kind.WithID(rec.Entity, rec.BaseID)
	return &rec, nil
}

func (s *VersionedStore[T]) writeRecord(ctx context.Context, rec *models.VersionRecord[T], replace bool) error {
	var (
		content    []byte
		name, text string
		err        error
	)
	if rec.Present() {
		if content, err = msgpack.Marshal(&rec.Entity); err != nil {
			return errors.Wrap(err, "encode version record")
		}
		name, text = s.kind.Key(rec.Entity), s.kind.SearchText(rec.Entity)
	}

	if replace {
		_, err = s.q.ExecContext(ctx,
			`UPDATE entity_versions SET modification_type = ?, content = ?, name = ?, search_text = ?, created_by = ?, created_at = ?
			 WHERE id = ?`,
			rec.ModificationType, content, name, text, rec.CreatedBy, rec.CreatedAt, rec.ID,
		)
		return errors.Wrap(err, "amend version record")
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO entity_versions (id, base_id, kind, version_id, major, minor, revision, modification_type, content, name, search_text, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BaseID, rec.Kind, rec.Version.ID, rec.Version.Major, rec.Version.Minor, rec.Version.Revision,
		rec.ModificationType, content, name, text, rec.CreatedBy, rec.CreatedAt,
	)
	return errors.Wrap(err, "insert version record")
}

func (s *VersionedStore[T]) createBase(ctx context.Context, key string) (string, error) {
	id := uuid.NewString()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO base_entities (id, kind, entity_key, created_at) VALUES (?, ?, ?, ?)`,
		id, s.kind.Kind(), key, now(),
	)
	if err != nil {
		return "", errors.Wrapf(err, "insert base %s %q", s.kind.Kind(), key)
	}
	return id, nil
}

func (s *VersionedStore[T]) dropBase(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM base_entities WHERE id = ?`, id)
	return errors.Wrapf(err, "drop base %s", id)
}

// rekeyBase makes key the base's latest key, unless a version after pv
// already holds a record of the base.
func (s *VersionedStore[T]) rekeyBase(ctx context.Context, id, key string, pv models.ProjectVersion) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE base_entities SET entity_key = ? WHERE id = ? AND entity_key != ? AND NOT EXISTS (
			SELECT 1 FROM entity_versions WHERE base_id = ? AND (major, minor, revision) > (?, ?, ?))`,
		key, id, key, id, pv.Major, pv.Minor, pv.Revision,
	)
	return errors.Wrapf(err, "rekey base %s to %q", id, key)
}

// baseAt resolves a natural key to a base entity as of pv, or "" when the
// key names no entity.
func (s *VersionedStore[T]) baseAt(ctx context.Context, pv models.ProjectVersion, key string) (string, error) {
	live, dormant, err := s.keyOwners(ctx, pv, key)
	if live != "" {
		return live, err
	}
	return dormant, err
}

// keyOwners returns the base entity present at pv under key, and otherwise
// the base entity a commit of key at pv continues: preferably one whose last
// state before pv carried key and has since been removed, else one that
// carries key only after pv. Entities present at pv under another key are
// never returned.
func (s *VersionedStore[T]) keyOwners(ctx context.Context, pv models.ProjectVersion, key string) (live, dormant string, err error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT base_id FROM entity_versions WHERE kind = ? AND name = ? AND (major, minor, revision) <= (?, ?, ?)
		 UNION
		 SELECT id FROM base_entities WHERE kind = ? AND entity_key = ?`,
		s.kind.Kind(), key, pv.Major, pv.Minor, pv.Revision, s.kind.Kind(), key,
	)
	if err != nil {
		return "", "", errors.Wrap(err, "query key owners")
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return "", "", errors.Wrap(err, "scan key owner")
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", "", err
	}
	if len(candidates) == 0 {
		return "", "", nil
	}

	idx, err := s.recordsUpTo(ctx, pv, candidates)
	if err != nil {
		return "", "", err
	}
	sort.Strings(candidates)
	var revived, later string
	for _, id := range candidates {
		history := idx[id]
		rec := resolve(history, pv)
		switch {
		case rec.Present() && s.kind.Key(rec.Entity) == key:
			return id, "", nil
		case rec.Present():
			// a different entity at pv
		case revived == "" && lastKey(s.kind, history) == key:
			revived = id
		case later == "" && rec == nil:
			later = id
		}
	}
	if revived != "" {
		return "", revived, nil
	}
	return "", later, nil
}

// lastKey returns the key of the last present record in history, which is
// in ascending version order.
func lastKey[T any](kind EntityKind[T], history []*models.VersionRecord[T]) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Present() {
			return kind.Key(history[i].Entity)
		}
	}
	return ""
}

func (s *VersionedStore[T]) baseKey(ctx context.Context, id string) (string, bool, error) {
	var key string
	err := s.q.QueryRowContext(ctx,
		`SELECT entity_key FROM base_entities WHERE kind = ? AND id = ?`, s.kind.Kind(), id,
	).Scan(&key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "lookup base")
	}
	return key, true, nil
}

func (s *VersionedStore[T]) baseExists(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.baseKey(ctx, id)
	return ok, err
}

func (s *VersionedStore[T]) reject(pv models.ProjectVersion, e T, format string, args ...any) models.CommitResult[T] {
	return s.rejection(pv, e, rejectf(format, args...).Error())
}

func (s *VersionedStore[T]) rejection(pv models.ProjectVersion, e T, msg string) models.CommitResult[T] {
	ce := &models.CommitError{
		ID:         uuid.NewString(),
		VersionID:  pv.ID,
		Kind:       s.kind.Kind(),
		EntityID:   s.kind.ID(e),
		EntityName: s.kind.Label(e),
		Message:    msg,
		CreatedAt:  now(),
	}
	s.logger.WithFields(logrus.Fields{
		"version": pv.String(),
		"entity":  ce.EntityName,
	}).Warn("entity not committed: " + msg)
	return models.CommitResult[T]{Err: ce}
}

// rejectOrFail turns rejections and constraint violations into a commit
// error for e and passes every other error through.
func (s *VersionedStore[T]) rejectOrFail(pv models.ProjectVersion, e T, err error) (models.CommitResult[T], error) {
	if r, ok := isRejection(err); ok {
		return s.rejection(pv, e, r.msg), nil
	}
	if isConstraint(err) {
		return s.rejection(pv, e, "constraint violation: "+errors.Cause(err).Error()), nil
	}
	return models.CommitResult[T]{}, err
}

func (s *VersionedStore[T]) sortEntities(entities []T) {
	sort.SliceStable(entities, func(i, j int) bool {
		li, lj := s.kind.Label(entities[i]), s.kind.Label(entities[j])
		if li != lj {
			return li < lj
		}
		return s.kind.ID(entities[i]) < s.kind.ID(entities[j])
	})
}

func now() string {
	return time.Now().UTC().Format(time.DateTime)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func nonEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
