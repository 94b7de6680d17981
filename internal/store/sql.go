package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"doc-translator/internal/layout"
	"doc-translator/internal/logger"
	"doc-translator/internal/translator"
	"doc-translator/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// Driver names accepted by OpenSQL.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type dialect struct {
	driver    string
	blobType  string
	forUpdate string
}

var dialects = map[string]dialect{
	DriverSQLite:   {driver: DriverSQLite, blobType: "BLOB"},
	DriverPostgres: {driver: DriverPostgres, blobType: "BYTEA", forUpdate: " FOR UPDATE"},
}

// rebind turns ? placeholders into $1, $2, ... for postgres.
func (d dialect) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// SQLStore is a Store on sqlite or postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// OpenSQL opens the database and creates missing tables.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, types.NewAppErrorWithDetails(types.ErrConfig, "unsupported database driver", driver, nil)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, types.NewAppError(types.ErrStore, "failed to open database", err)
	}
	if driver == DriverSQLite {
		// One connection keeps :memory: databases shared and avoids
		// "database is locked" between concurrent writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, types.NewAppError(types.ErrStore, "database ping failed", err)
	}

	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("sql store ready", logger.String("driver", driver))
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	schema := strings.ReplaceAll(schemaSQL, "{{BLOB}}", s.dialect.blobType)
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return types.NewAppError(types.ErrStore, "schema migration failed", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) q(query string) string { return s.dialect.rebind(query) }

func storeErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	return types.NewAppError(types.ErrStore, msg, err)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return storeErr("failed to commit", tx.Commit())
}

// ---- jobs ----

const jobColumns = `id, filename, source_key, file_size, source_language, target_language, state,
	current_stage, current_page, total_pages, progress, error_message, output_key, qa_summary,
	processing_ns, created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*layout.Job, error) {
	var (
		j                   layout.Job
		state, summary      string
		processing, created int64
		started, completed  sql.NullInt64
	)
	if err := row.Scan(&j.ID, &j.Filename, &j.SourceKey, &j.FileSize, &j.SourceLanguage, &j.TargetLanguage,
		&state, &j.CurrentStage, &j.CurrentPage, &j.TotalPages, &j.Progress, &j.ErrorMessage, &j.OutputKey,
		&summary, &processing, &created, &started, &completed); err != nil {
		return nil, err
	}
	j.State = layout.State(state)
	j.ProcessingTime = time.Duration(processing)
	j.CreatedAt = fromNanos(created)
	j.StartedAt = nullTime(started)
	j.CompletedAt = nullTime(completed)
	if summary != "" && summary != "{}" {
		if err := json.Unmarshal([]byte(summary), &j.QASummary); err != nil {
			return nil, fmt.Errorf("decode qa summary: %w", err)
		}
	}
	return &j, nil
}

func jobArgs(j *layout.Job) ([]interface{}, error) {
	summary := []byte("{}")
	if len(j.QASummary) > 0 {
		var err error
		if summary, err = json.Marshal(j.QASummary); err != nil {
			return nil, err
		}
	}
	return []interface{}{j.ID, j.Filename, j.SourceKey, j.FileSize, j.SourceLanguage, j.TargetLanguage,
		string(j.State), j.CurrentStage, j.CurrentPage, j.TotalPages, j.Progress, j.ErrorMessage, j.OutputKey,
		string(summary), int64(j.ProcessingTime), toNanos(j.CreatedAt), nullNanos(j.StartedAt), nullNanos(j.CompletedAt)}, nil
}

func (s *SQLStore) CreateJob(ctx context.Context, job *layout.Job) error {
	if err := prepareJob(job, s.now()); err != nil {
		return err
	}
	args, err := jobArgs(job)
	if err != nil {
		return storeErr("failed to encode job", err)
	}
	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.q(query), args...); err != nil {
		if existing, _ := s.GetJob(ctx, job.ID); existing != nil {
			return ErrConflict
		}
		return storeErr("failed to create job", err)
	}
	return nil
}

func (s *SQLStore) getJob(ctx context.Context, db queryer, id string, lock bool) (*layout.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	if lock {
		query += s.dialect.forUpdate
	}
	j, err := scanJob(db.QueryRowContext(ctx, s.q(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("job", id)
	}
	if err != nil {
		return nil, storeErr("failed to load job", err)
	}
	return j, nil
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (*layout.Job, error) {
	return s.getJob(ctx, s.db, id, false)
}

func (s *SQLStore) UpdateJob(ctx context.Context, id string, u JobUpdate) (*layout.Job, error) {
	var out *layout.Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		j, err := s.getJob(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := u.checkTransition(j); err != nil {
			return err
		}
		u.Apply(j)
		args, err := jobArgs(j)
		if err != nil {
			return storeErr("failed to encode job", err)
		}
		query := `UPDATE jobs SET filename = ?, source_key = ?, file_size = ?, source_language = ?,
			target_language = ?, state = ?, current_stage = ?, current_page = ?, total_pages = ?, progress = ?,
			error_message = ?, output_key = ?, qa_summary = ?, processing_ns = ?, created_at = ?,
			started_at = ?, completed_at = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, s.q(query), append(args[1:], id)...); err != nil {
			return storeErr("failed to update job", err)
		}
		out = j
		return nil
	})
	return out, err
}

func (s *SQLStore) ListJobs(ctx context.Context, filter JobFilter, page Pagination) ([]layout.Job, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Filename != "" {
		where = append(where, "filename = ?")
		args = append(args, filter.Filename)
	}
	if len(filter.States) > 0 {
		marks := make([]string, len(filter.States))
		for i, st := range filter.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM jobs`+clause), args...).Scan(&total); err != nil {
		return nil, 0, storeErr("failed to count jobs", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + clause + ` ORDER BY created_at DESC, id ASC`
	switch {
	case page.Limit > 0:
		query += fmt.Sprintf(" LIMIT %d", page.Limit)
	case page.Offset > 0 && s.dialect.driver == DriverSQLite:
		// sqlite only accepts OFFSET after a LIMIT.
		query += " LIMIT -1"
	}
	if page.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, 0, storeErr("failed to list jobs", err)
	}
	defer rows.Close()

	jobs := []layout.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, storeErr("failed to read job", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, total, storeErr("failed to list jobs", rows.Err())
}

func (s *SQLStore) DeleteJob(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM jobs WHERE id = ?`), id)
		if err != nil {
			return storeErr("failed to delete job", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("job", id)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM segments WHERE job_id = ?`), id); err != nil {
			return storeErr("failed to delete segments", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM pages WHERE job_id = ?`), id); err != nil {
			return storeErr("failed to delete pages", err)
		}
		return nil
	})
}

// ---- pages and segments ----

func (s *SQLStore) SavePage(ctx context.Context, page layout.Page, segs []layout.Segment) error {
	if _, err := s.GetJob(ctx, page.JobID); err != nil {
		return err
	}
	indexes, err := json.Marshal(page.SegmentIndexes)
	if err != nil {
		return storeErr("failed to encode page", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM segments WHERE job_id = ? AND page_number = ?`),
			page.JobID, page.Number); err != nil {
			return storeErr("failed to replace segments", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM pages WHERE job_id = ? AND page_number = ?`),
			page.JobID, page.Number); err != nil {
			return storeErr("failed to replace page", err)
		}
		background := page.Background
		if background == nil {
			background = []byte{}
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO pages
			(job_id, page_number, width, height, segment_indexes, background, isolation_failed)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			page.JobID, page.Number, page.Width, page.Height, string(indexes), background, page.IsolationFailed); err != nil {
			return storeErr("failed to save page", err)
		}

		insert := s.q(`INSERT INTO segments (job_id, page_number, segment_index, x0, y0, x1, y1, font_name,
			font_size, style, source_text, translation, post_edited_text, qa_flags)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		for _, seg := range segs {
			tr, post, flags, err := segmentPayload(seg)
			if err != nil {
				return storeErr("failed to encode segment", err)
			}
			if _, err := tx.ExecContext(ctx, insert, seg.JobID, seg.PageNumber, seg.Index,
				seg.BBox.X0, seg.BBox.Y0, seg.BBox.X1, seg.BBox.Y1, seg.FontName, seg.FontSize, int(seg.Style),
				seg.SourceText, tr, post, flags); err != nil {
				return storeErr("failed to save segment", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) ListPages(ctx context.Context, jobID string) ([]layout.Page, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT job_id, page_number, width, height, segment_indexes,
		background, isolation_failed FROM pages WHERE job_id = ? ORDER BY page_number`), jobID)
	if err != nil {
		return nil, storeErr("failed to list pages", err)
	}
	defer rows.Close()

	var pages []layout.Page
	for rows.Next() {
		var (
			p       layout.Page
			indexes string
		)
		if err := rows.Scan(&p.JobID, &p.Number, &p.Width, &p.Height, &indexes, &p.Background, &p.IsolationFailed); err != nil {
			return nil, storeErr("failed to read page", err)
		}
		if err := json.Unmarshal([]byte(indexes), &p.SegmentIndexes); err != nil {
			return nil, storeErr("failed to decode page", err)
		}
		pages = append(pages, p)
	}
	return pages, storeErr("failed to list pages", rows.Err())
}

func (s *SQLStore) ListSegments(ctx context.Context, jobID string) ([]layout.Segment, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT job_id, page_number, segment_index, x0, y0, x1, y1,
		font_name, font_size, style, source_text, translation, post_edited_text, qa_flags
		FROM segments WHERE job_id = ? ORDER BY page_number, segment_index`), jobID)
	if err != nil {
		return nil, storeErr("failed to list segments", err)
	}
	defer rows.Close()

	var segs []layout.Segment
	for rows.Next() {
		var (
			seg   layout.Segment
			style int
			tr    sql.NullString
			post  sql.NullString
			flags string
		)
		if err := rows.Scan(&seg.JobID, &seg.PageNumber, &seg.Index, &seg.BBox.X0, &seg.BBox.Y0,
			&seg.BBox.X1, &seg.BBox.Y1, &seg.FontName, &seg.FontSize, &style, &seg.SourceText,
			&tr, &post, &flags); err != nil {
			return nil, storeErr("failed to read segment", err)
		}
		seg.Style = layout.StyleFlags(style)
		if tr.Valid {
			var t layout.Translation
			if err := json.Unmarshal([]byte(tr.String), &t); err != nil {
				return nil, storeErr("failed to decode translation", err)
			}
			seg.Translation = &t
		}
		if post.Valid {
			p := post.String
			seg.PostEditedText = &p
		}
		var codes []string
		if err := json.Unmarshal([]byte(flags), &codes); err != nil {
			return nil, storeErr("failed to decode flags", err)
		}
		seg.QAFlags = layout.FlagsFromStrings(codes)
		segs = append(segs, seg)
	}
	return segs, storeErr("failed to list segments", rows.Err())
}

func (s *SQLStore) UpdateSegment(ctx context.Context, seg layout.Segment) error {
	tr, post, flags, err := segmentPayload(seg)
	if err != nil {
		return storeErr("failed to encode segment", err)
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE segments SET translation = ?, post_edited_text = ?, qa_flags = ?
		WHERE job_id = ? AND page_number = ? AND segment_index = ?`),
		tr, post, flags, seg.JobID, seg.PageNumber, seg.Index)
	if err != nil {
		return storeErr("failed to update segment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("segment", seg.Key().String())
	}
	return nil
}

func segmentPayload(seg layout.Segment) (tr, post sql.NullString, flags string, err error) {
	if seg.Translation != nil {
		data, err := json.Marshal(seg.Translation)
		if err != nil {
			return tr, post, "", err
		}
		tr = sql.NullString{String: string(data), Valid: true}
	}
	if seg.PostEditedText != nil {
		post = sql.NullString{String: *seg.PostEditedText, Valid: true}
	}
	codes := seg.QAFlags.Strings()
	data, err := json.Marshal(codes)
	if err != nil {
		return tr, post, "", err
	}
	return tr, post, string(data), nil
}

// ---- translation memory ----

const tmColumns = `id, source_hash, source_text, target_text, source_language, target_language, quality_score,
	domain, context_before, context_after, match_count, last_used_at, created_at`

func scanEntry(row rowScanner) (*translator.TMEntry, error) {
	var (
		e        translator.TMEntry
		lastUsed sql.NullInt64
		created  int64
	)
	if err := row.Scan(&e.ID, &e.SourceHash, &e.SourceText, &e.TargetText, &e.SourceLanguage, &e.TargetLanguage,
		&e.QualityScore, &e.Domain, &e.ContextBefore, &e.ContextAfter, &e.MatchCount, &lastUsed, &created); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		e.LastUsedAt = fromNanos(lastUsed.Int64)
	}
	e.CreatedAt = fromNanos(created)
	return &e, nil
}

func (s *SQLStore) AddEntry(ctx context.Context, e *translator.TMEntry) error {
	if err := prepareEntry(e, s.now()); err != nil {
		return err
	}
	var lastUsed interface{}
	if !e.LastUsedAt.IsZero() {
		lastUsed = toNanos(e.LastUsedAt)
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO tm_entries (`+tmColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.SourceHash, e.SourceText, e.TargetText, e.SourceLanguage, e.TargetLanguage, e.QualityScore,
		e.Domain, e.ContextBefore, e.ContextAfter, e.MatchCount, lastUsed, toNanos(e.CreatedAt))
	return storeErr("failed to add TM entry", err)
}

func (s *SQLStore) Lookup(ctx context.Context, hash, srcLang, tgtLang string) (*translator.TMEntry, error) {
	query := `SELECT ` + tmColumns + ` FROM tm_entries WHERE source_hash = ? AND target_language = ?`
	args := []interface{}{hash, normalizeLang(tgtLang)}
	if !translator.AnyLanguage(srcLang) {
		query += ` AND source_language = ?`
		args = append(args, normalizeLang(srcLang))
	}
	query += ` ORDER BY quality_score DESC, created_at ASC, id ASC LIMIT 1`

	e, err := scanEntry(s.db.QueryRowContext(ctx, s.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("TM lookup failed", err)
	}
	return e, nil
}

// Touch runs as a single UPDATE so concurrent touches never lose counts.
func (s *SQLStore) Touch(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tm_entries SET match_count = match_count + 1, last_used_at = ?
		WHERE id = ?`), toNanos(s.now()), entryID)
	if err != nil {
		return storeErr("TM touch failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("tm entry", entryID)
	}
	return nil
}

func (s *SQLStore) ListEntries(ctx context.Context) ([]translator.TMEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tmColumns+` FROM tm_entries ORDER BY id`)
	if err != nil {
		return nil, storeErr("failed to list TM entries", err)
	}
	defer rows.Close()

	var out []translator.TMEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storeErr("failed to read TM entry", err)
		}
		out = append(out, *e)
	}
	return out, storeErr("failed to list TM entries", rows.Err())
}

// ---- glossary ----

const glossaryColumns = `id, source_term, target_term, source_language, target_language, case_sensitive,
	exact_match_only, priority, definition, notes, domain, usage_count, created_at`

func scanGlossary(row rowScanner) (*translator.GlossaryEntry, error) {
	var (
		e       translator.GlossaryEntry
		created int64
	)
	if err := row.Scan(&e.ID, &e.SourceTerm, &e.TargetTerm, &e.SourceLanguage, &e.TargetLanguage, &e.CaseSensitive,
		&e.ExactMatchOnly, &e.Priority, &e.Definition, &e.Notes, &e.Domain, &e.UsageCount, &created); err != nil {
		return nil, err
	}
	e.CreatedAt = fromNanos(created)
	return &e, nil
}

func (s *SQLStore) AddGlossaryEntry(ctx context.Context, e *translator.GlossaryEntry) error {
	if err := prepareGlossaryEntry(e, s.now()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO glossary_entries (`+glossaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.SourceTerm, e.TargetTerm, e.SourceLanguage, e.TargetLanguage, e.CaseSensitive, e.ExactMatchOnly,
		e.Priority, e.Definition, e.Notes, e.Domain, e.UsageCount, toNanos(e.CreatedAt))
	return storeErr("failed to add glossary entry", err)
}

func (s *SQLStore) listGlossary(ctx context.Context, where string, args ...interface{}) ([]translator.GlossaryEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+glossaryColumns+` FROM glossary_entries`+where+` ORDER BY id`), args...)
	if err != nil {
		return nil, storeErr("failed to list glossary", err)
	}
	defer rows.Close()

	var out []translator.GlossaryEntry
	for rows.Next() {
		e, err := scanGlossary(rows)
		if err != nil {
			return nil, storeErr("failed to read glossary entry", err)
		}
		out = append(out, *e)
	}
	return out, storeErr("failed to list glossary", rows.Err())
}

func (s *SQLStore) ListGlossary(ctx context.Context) ([]translator.GlossaryEntry, error) {
	return s.listGlossary(ctx, "")
}

func (s *SQLStore) Matches(ctx context.Context, text, srcLang, tgtLang string) ([]translator.GlossaryMatch, error) {
	entries, err := s.listGlossary(ctx, ` WHERE target_language = ?`, normalizeLang(tgtLang))
	if err != nil {
		return nil, err
	}
	return translator.FindMatches(translator.FilterEntries(entries, srcLang, tgtLang), text), nil
}

func (s *SQLStore) RecordUsage(ctx context.Context, entryIDs []string) error {
	for _, id := range entryIDs {
		if _, err := s.db.ExecContext(ctx, s.q(`UPDATE glossary_entries SET usage_count = usage_count + 1 WHERE id = ?`), id); err != nil {
			return storeErr("failed to record glossary usage", err)
		}
	}
	return nil
}

// ---- time helpers ----

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n) }

func nullNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
