// Package sqlite is the tabular Store backend. Entities live in three tables
// joined by surrogate ids; natural keys (profile_url, activity_url and the
// participation pair) are enforced with UNIQUE indexes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alpenclub/tripscope/pkg/club"
	"github.com/alpenclub/tripscope/pkg/store"
)

const timeLayout = time.RFC3339Nano

// DB implements store.Store on a sqlite file.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS persons (
  id            INTEGER PRIMARY KEY,
  profile_url   TEXT NOT NULL UNIQUE,
  user_name     TEXT NOT NULL DEFAULT '',
  full_name     TEXT NOT NULL DEFAULT '',
  portrait_url  TEXT NOT NULL DEFAULT '',
  email         TEXT NOT NULL DEFAULT '',
  branch        TEXT NOT NULL DEFAULT '',
  is_scraped    INTEGER NOT NULL DEFAULT 0 CHECK (is_scraped IN (0,1)),
  last_scraped  TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_persons_username ON persons(user_name) WHERE user_name <> '';
CREATE TABLE IF NOT EXISTS activities (
  id                 INTEGER PRIMARY KEY,
  activity_url       TEXT NOT NULL UNIQUE,
  name               TEXT NOT NULL DEFAULT '',
  date_start         TEXT NOT NULL,
  date_end           TEXT NOT NULL,
  committee          TEXT NOT NULL DEFAULT '',
  branch             TEXT NOT NULL DEFAULT '',
  activity_type      TEXT NOT NULL DEFAULT '',
  difficulty         TEXT NOT NULL DEFAULT '',
  leader_rating      TEXT NOT NULL DEFAULT '',
  mileage            TEXT NOT NULL DEFAULT '',
  route_name         TEXT NOT NULL DEFAULT '',
  route_url          TEXT NOT NULL DEFAULT '',
  status             TEXT NOT NULL DEFAULT '',
  result             TEXT NOT NULL DEFAULT '',
  scraped_at         TEXT NOT NULL,
  next_scrape        TEXT,
  scrape_error       TEXT NOT NULL DEFAULT '',
  scrape_error_count INTEGER NOT NULL DEFAULT 0,
  scrape_error_time  TEXT
);
CREATE TABLE IF NOT EXISTS participations (
  id           INTEGER PRIMARY KEY,
  person_id    INTEGER NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
  activity_id  INTEGER NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
  role         TEXT NOT NULL DEFAULT '',
  is_canceled  INTEGER NOT NULL DEFAULT 0 CHECK (is_canceled IN (0,1)),
  registration TEXT NOT NULL DEFAULT '',
  result       TEXT NOT NULL DEFAULT '',
  UNIQUE(person_id, activity_id)
);
CREATE INDEX IF NOT EXISTS idx_participations_activity ON participations(activity_id);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the query helpers can run
// inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return fmt.Errorf("%w: %v", store.ErrIntegrity, err)
	}
	return err
}

func fmtTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func mustTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

const personColumns = "profile_url, user_name, full_name, portrait_url, email, branch, is_scraped, last_scraped"

func scanPerson(row interface{ Scan(dest ...interface{}) error }) (*club.Person, error) {
	var p club.Person
	var isScraped int
	var lastScraped sql.NullString
	if err := row.Scan(&p.ProfileURL, &p.UserName, &p.FullName, &p.PortraitURL, &p.Email, &p.Branch, &isScraped, &lastScraped); err != nil {
		return nil, err
	}
	p.IsScraped = isScraped == 1
	ls, err := parseTime(lastScraped)
	if err != nil {
		return nil, err
	}
	p.LastScraped = ls
	return &p, nil
}

func findPerson(ctx context.Context, q dbtx, where string, arg interface{}) (*club.Person, error) {
	row := q.QueryRowContext(ctx, "SELECT "+personColumns+" FROM persons WHERE "+where, arg)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func insertPerson(ctx context.Context, q dbtx, p *club.Person) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO persons(profile_url, user_name, full_name, portrait_url, email, branch, is_scraped, last_scraped) VALUES(?,?,?,?,?,?,?,?)`,
		p.ProfileURL, p.UserName, p.FullName, p.PortraitURL, p.Email, p.Branch, boolToInt(p.IsScraped), fmtTime(p.LastScraped))
	return wrapErr(err)
}

func updatePerson(ctx context.Context, q dbtx, p *club.Person) error {
	res, err := q.ExecContext(ctx,
		`UPDATE persons SET user_name = ?, full_name = ?, portrait_url = ?, email = ?, branch = ?, is_scraped = ?, last_scraped = ? WHERE profile_url = ?`,
		p.UserName, p.FullName, p.PortraitURL, p.Email, p.Branch, boolToInt(p.IsScraped), fmtTime(p.LastScraped), p.ProfileURL)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: person %s not found", store.ErrIntegrity, p.ProfileURL)
	}
	return nil
}

const activityColumns = "activity_url, name, date_start, date_end, committee, branch, activity_type, difficulty, leader_rating, mileage, route_name, route_url, status, result, scraped_at, next_scrape, scrape_error, scrape_error_count, scrape_error_time"

func scanActivity(row interface{ Scan(dest ...interface{}) error }) (*club.Activity, error) {
	var a club.Activity
	var dateStart, dateEnd, scrapedAt string
	var nextScrape, errTime sql.NullString
	if err := row.Scan(&a.ActivityURL, &a.Name, &dateStart, &dateEnd, &a.Committee, &a.Branch,
		&a.ActivityType, &a.Difficulty, &a.LeaderRating, &a.Mileage, &a.RouteName, &a.RouteURL,
		&a.Status, &a.Result, &scrapedAt, &nextScrape, &a.ScrapeError, &a.ScrapeErrorCount, &errTime); err != nil {
		return nil, err
	}
	var err error
	if a.DateStart, err = mustTime(dateStart); err != nil {
		return nil, err
	}
	if a.DateEnd, err = mustTime(dateEnd); err != nil {
		return nil, err
	}
	if a.ScrapedAt, err = mustTime(scrapedAt); err != nil {
		return nil, err
	}
	if a.NextScrape, err = parseTime(nextScrape); err != nil {
		return nil, err
	}
	if a.ScrapeErrorTime, err = parseTime(errTime); err != nil {
		return nil, err
	}
	return &a, nil
}

func findActivity(ctx context.Context, q dbtx, activityURL string) (*club.Activity, error) {
	row := q.QueryRowContext(ctx, "SELECT "+activityColumns+" FROM activities WHERE activity_url = ?", activityURL)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func insertActivity(ctx context.Context, q dbtx, a *club.Activity) error {
	start := a.DateStart
	_, err := q.ExecContext(ctx,
		`INSERT INTO activities(`+activityColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ActivityURL, a.Name, start.UTC().Format(timeLayout), a.DateEnd.UTC().Format(timeLayout),
		a.Committee, a.Branch, a.ActivityType, a.Difficulty, a.LeaderRating, a.Mileage,
		a.RouteName, a.RouteURL, a.Status, a.Result,
		a.ScrapedAt.UTC().Format(timeLayout), fmtTime(a.NextScrape),
		a.ScrapeError, a.ScrapeErrorCount, fmtTime(a.ScrapeErrorTime))
	return wrapErr(err)
}

func updateActivity(ctx context.Context, q dbtx, a *club.Activity) error {
	res, err := q.ExecContext(ctx,
		`UPDATE activities SET name = ?, date_start = ?, date_end = ?, committee = ?, branch = ?,
activity_type = ?, difficulty = ?, leader_rating = ?, mileage = ?, route_name = ?, route_url = ?,
status = ?, result = ?, scraped_at = ?, next_scrape = ?, scrape_error = ?, scrape_error_count = ?, scrape_error_time = ?
WHERE activity_url = ?`,
		a.Name, a.DateStart.UTC().Format(timeLayout), a.DateEnd.UTC().Format(timeLayout),
		a.Committee, a.Branch, a.ActivityType, a.Difficulty, a.LeaderRating, a.Mileage,
		a.RouteName, a.RouteURL, a.Status, a.Result,
		a.ScrapedAt.UTC().Format(timeLayout), fmtTime(a.NextScrape),
		a.ScrapeError, a.ScrapeErrorCount, fmtTime(a.ScrapeErrorTime),
		a.ActivityURL)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: activity %s not found", store.ErrIntegrity, a.ActivityURL)
	}
	return nil
}

const participationSelect = `
SELECT p.profile_url, a.activity_url, pt.role, pt.is_canceled, pt.registration, pt.result
FROM participations pt
JOIN persons p ON p.id = pt.person_id
JOIN activities a ON a.id = pt.activity_id`

func scanParticipation(row interface{ Scan(dest ...interface{}) error }) (*club.Participation, error) {
	var pt club.Participation
	var canceled int
	if err := row.Scan(&pt.ProfileURL, &pt.ActivityURL, &pt.Role, &canceled, &pt.Registration, &pt.Result); err != nil {
		return nil, err
	}
	pt.IsCanceled = canceled == 1
	return &pt, nil
}

func findParticipation(ctx context.Context, q dbtx, profileURL, activityURL string) (*club.Participation, error) {
	row := q.QueryRowContext(ctx, participationSelect+" WHERE p.profile_url = ? AND a.activity_url = ?", profileURL, activityURL)
	pt, err := scanParticipation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pt, nil
}

func insertParticipation(ctx context.Context, q dbtx, pt *club.Participation) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO participations(person_id, activity_id, role, is_canceled, registration, result)
SELECT p.id, a.id, ?, ?, ?, ? FROM persons p, activities a WHERE p.profile_url = ? AND a.activity_url = ?`,
		pt.Role, boolToInt(pt.IsCanceled), pt.Registration, pt.Result, pt.ProfileURL, pt.ActivityURL)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: participation %s/%s references missing entities", store.ErrIntegrity, pt.ProfileURL, pt.ActivityURL)
	}
	return nil
}

func updateParticipation(ctx context.Context, q dbtx, pt *club.Participation) error {
	res, err := q.ExecContext(ctx,
		`UPDATE participations SET role = ?, is_canceled = ?, registration = ?, result = ?
WHERE person_id = (SELECT id FROM persons WHERE profile_url = ?)
AND activity_id = (SELECT id FROM activities WHERE activity_url = ?)`,
		pt.Role, boolToInt(pt.IsCanceled), pt.Registration, pt.Result, pt.ProfileURL, pt.ActivityURL)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: participation %s/%s not found", store.ErrIntegrity, pt.ProfileURL, pt.ActivityURL)
	}
	return nil
}

func removeParticipation(ctx context.Context, q dbtx, profileURL, activityURL string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM participations
WHERE person_id = (SELECT id FROM persons WHERE profile_url = ?)
AND activity_id = (SELECT id FROM activities WHERE activity_url = ?)`,
		profileURL, activityURL)
	return wrapErr(err)
}

func (d *DB) FindPersonByURL(ctx context.Context, profileURL string) (*club.Person, error) {
	return findPerson(ctx, d.sql, "profile_url = ?", profileURL)
}

func (d *DB) FindPersonByUsername(ctx context.Context, username string) (*club.Person, error) {
	if username == "" {
		return nil, nil
	}
	return findPerson(ctx, d.sql, "user_name = ?", username)
}

func (d *DB) CreatePerson(ctx context.Context, p *club.Person) error {
	return insertPerson(ctx, d.sql, p)
}

func (d *DB) UpdatePerson(ctx context.Context, p *club.Person) error {
	return updatePerson(ctx, d.sql, p)
}

func (d *DB) FindActivityByURL(ctx context.Context, activityURL string) (*club.Activity, error) {
	return findActivity(ctx, d.sql, activityURL)
}

func (d *DB) CreateActivity(ctx context.Context, a *club.Activity) error {
	return insertActivity(ctx, d.sql, a)
}

func (d *DB) UpdateActivity(ctx context.Context, a *club.Activity) error {
	return updateActivity(ctx, d.sql, a)
}

func (d *DB) FindParticipation(ctx context.Context, profileURL, activityURL string) (*club.Participation, error) {
	return findParticipation(ctx, d.sql, profileURL, activityURL)
}

func (d *DB) CreateParticipation(ctx context.Context, pt *club.Participation) error {
	return insertParticipation(ctx, d.sql, pt)
}

func (d *DB) UpdateParticipation(ctx context.Context, pt *club.Participation) error {
	return updateParticipation(ctx, d.sql, pt)
}

func (d *DB) RemoveParticipation(ctx context.Context, profileURL, activityURL string) error {
	return removeParticipation(ctx, d.sql, profileURL, activityURL)
}

func (d *DB) ListParticipationsForPerson(ctx context.Context, profileURL string) ([]club.Participation, error) {
	rows, err := d.sql.QueryContext(ctx,
		participationSelect+" WHERE p.profile_url = ? ORDER BY a.date_start ASC, a.activity_url ASC", profileURL)
	if err != nil {
		return nil, err
	}
	return collectParticipations(rows)
}

func (d *DB) ListParticipationsForActivity(ctx context.Context, activityURL string) ([]club.Participation, error) {
	rows, err := d.sql.QueryContext(ctx,
		participationSelect+" WHERE a.activity_url = ? ORDER BY p.profile_url ASC", activityURL)
	if err != nil {
		return nil, err
	}
	return collectParticipations(rows)
}

func collectParticipations(rows *sql.Rows) ([]club.Participation, error) {
	defer rows.Close()
	var out []club.Participation
	for rows.Next() {
		pt, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DB) Stats(ctx context.Context) (store.Stats, error) {
	var s store.Stats
	row := d.sql.QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(*) FROM persons),
  (SELECT COUNT(*) FROM activities),
  (SELECT COUNT(*) FROM participations),
  (SELECT COUNT(*) FROM activities WHERE next_scrape IS NOT NULL),
  (SELECT COUNT(*) FROM activities WHERE next_scrape IS NULL)`)
	if err := row.Scan(&s.Persons, &s.Activities, &s.Participations, &s.PendingActivities, &s.StableActivities); err != nil {
		return store.Stats{}, err
	}
	return s, nil
}

func (d *DB) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// tx adapts *sql.Tx to store.Tx.
type tx struct {
	tx *sql.Tx
}

func (t *tx) CreatePerson(ctx context.Context, p *club.Person) error { return insertPerson(ctx, t.tx, p) }
func (t *tx) UpdatePerson(ctx context.Context, p *club.Person) error { return updatePerson(ctx, t.tx, p) }
func (t *tx) CreateActivity(ctx context.Context, a *club.Activity) error {
	return insertActivity(ctx, t.tx, a)
}
func (t *tx) UpdateActivity(ctx context.Context, a *club.Activity) error {
	return updateActivity(ctx, t.tx, a)
}
func (t *tx) CreateParticipation(ctx context.Context, pt *club.Participation) error {
	return insertParticipation(ctx, t.tx, pt)
}
func (t *tx) UpdateParticipation(ctx context.Context, pt *club.Participation) error {
	return updateParticipation(ctx, t.tx, pt)
}
func (t *tx) RemoveParticipation(ctx context.Context, profileURL, activityURL string) error {
	return removeParticipation(ctx, t.tx, profileURL, activityURL)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
