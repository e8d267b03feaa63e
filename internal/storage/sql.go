package storage

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

	"pagerbuddy/internal/alert"
	logx "pagerbuddy/pkg/logx"

	"github.com/oklog/ulid/v2"
)

//go:embed schema.sql
var schemaSQL string

// sqlStore implements Repository for SQLite and PostgreSQL. Queries are
// written with '?' placeholders and rebound for dialects that need $n.
type sqlStore struct {
	db       *sql.DB
	log      logx.Logger
	dollarPH bool
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind turns '?' placeholders into $1..$n for PostgreSQL.
func (s *sqlStore) rebind(q string) string {
	if !s.dollarPH {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) row(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ---- units ----

func (s *sqlStore) GetUnit(ctx context.Context, code int) (alert.Unit, error) {
	return s.getUnit(ctx, s.db, code)
}

func (s *sqlStore) getUnit(ctx context.Context, q queryer, code int) (alert.Unit, error) {
	var (
		u      alert.Unit
		silent string
	)
	err := s.row(ctx, q, `SELECT code, name, short_name, silent FROM units WHERE code = ?`, code).
		Scan(&u.Code, &u.Name, &u.ShortName, &silent)
	if err != nil {
		return alert.Unit{}, notFound(err)
	}
	if err := json.Unmarshal([]byte(silent), &u.Silent); err != nil {
		return alert.Unit{}, fmt.Errorf("unit %d: silent config: %w", code, err)
	}
	return u, nil
}

func (s *sqlStore) SaveUnit(ctx context.Context, u alert.Unit) error {
	silent, err := json.Marshal(u.Silent)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db,
		`INSERT INTO units(code, name, short_name, silent) VALUES(?,?,?,?)
		 ON CONFLICT(code) DO UPDATE SET name=excluded.name, short_name=excluded.short_name, silent=excluded.silent`,
		u.Code, u.Name, u.ShortName, string(silent),
	)
	return err
}

func (s *sqlStore) ListUnits(ctx context.Context) ([]alert.Unit, error) {
	rows, err := s.query(ctx, s.db, `SELECT code, name, short_name, silent FROM units ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []alert.Unit
	for rows.Next() {
		var (
			u      alert.Unit
			silent string
		)
		if err := rows.Scan(&u.Code, &u.Name, &u.ShortName, &silent); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(silent), &u.Silent); err != nil {
			return nil, fmt.Errorf("unit %d: silent config: %w", u.Code, err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteUnit(ctx context.Context, code int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM user_responses WHERE alert_response_id IN (
				SELECT r.id FROM alert_responses r JOIN alerts a ON a.id = r.alert_id WHERE a.unit_code = ?)`,
			`DELETE FROM alert_responses WHERE alert_id IN (SELECT id FROM alerts WHERE unit_code = ?)`,
			`DELETE FROM alert_sources WHERE alert_id IN (SELECT id FROM alerts WHERE unit_code = ?)`,
			`DELETE FROM alerts WHERE unit_code = ?`,
			`DELETE FROM alert_history WHERE unit_code = ?`,
			`DELETE FROM group_units WHERE unit_code = ?`,
			`DELETE FROM sink_subscriptions WHERE unit_code = ?`,
			`DELETE FROM units WHERE code = ?`,
		}
		for _, q := range stmts {
			if _, err := s.exec(ctx, tx, q, code); err != nil {
				return err
			}
		}
		return nil
	})
}

// ---- sources ----

func (s *sqlStore) GetSource(ctx context.Context, id string) (alert.Source, error) {
	var (
		src              alert.Source
		kind             string
		lastAlert, lastS int64
	)
	err := s.row(ctx, s.db, `SELECT id, kind, description, last_alert, last_status FROM sources WHERE id = ?`, id).
		Scan(&src.ID, &kind, &src.Description, &lastAlert, &lastS)
	if err != nil {
		return alert.Source{}, notFound(err)
	}
	src.Kind = alert.SourceKind(kind)
	src.LastAlert, src.LastStatus = fromMillis(lastAlert), fromMillis(lastS)
	return src, nil
}

func (s *sqlStore) SaveSource(ctx context.Context, src alert.Source) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO sources(id, kind, description, last_alert, last_status) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, description=excluded.description,
		   last_alert=excluded.last_alert, last_status=excluded.last_status`,
		src.ID, string(src.Kind), src.Description, toMillis(src.LastAlert), toMillis(src.LastStatus),
	)
	return err
}

func (s *sqlStore) ListSources(ctx context.Context) ([]alert.Source, error) {
	rows, err := s.query(ctx, s.db, `SELECT id, kind, description, last_alert, last_status FROM sources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []alert.Source
	for rows.Next() {
		var (
			src              alert.Source
			kind             string
			lastAlert, lastS int64
		)
		if err := rows.Scan(&src.ID, &kind, &src.Description, &lastAlert, &lastS); err != nil {
			return nil, err
		}
		src.Kind = alert.SourceKind(kind)
		src.LastAlert, src.LastStatus = fromMillis(lastAlert), fromMillis(lastS)
		out = append(out, src)
	}
	return out, rows.Err()
}

// ---- alerts ----

const alertColumns = `id, unit_code, ts, keyword, message, location, info, silent, manual`

func (s *sqlStore) GetAlert(ctx context.Context, id string) (*alert.Alert, error) {
	return s.loadAlert(ctx, s.row(ctx, s.db, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
}

func (s *sqlStore) LatestAlert(ctx context.Context, unitCode int, since time.Time) (*alert.Alert, error) {
	return s.loadAlert(ctx, s.row(ctx, s.db,
		`SELECT `+alertColumns+` FROM alerts WHERE unit_code = ? AND ts >= ? ORDER BY ts DESC LIMIT 1`,
		unitCode, since.UnixMilli()))
}

func (s *sqlStore) loadAlert(ctx context.Context, r *sql.Row) (*alert.Alert, error) {
	var (
		a              alert.Alert
		code, info     int
		ts             int64
		silent, manual int
	)
	if err := r.Scan(&a.ID, &code, &ts, &a.Keyword, &a.Message, &a.Location, &info, &silent, &manual); err != nil {
		return nil, notFound(err)
	}
	a.Timestamp = fromMillis(ts)
	a.Info = alert.InformationContent(info)
	a.Silent, a.Manual = silent != 0, manual != 0

	u, err := s.getUnit(ctx, s.db, code)
	switch {
	case errors.Is(err, ErrNotFound):
		u = alert.SyntheticUnit(code)
	case err != nil:
		return nil, err
	}
	a.Unit = u

	rows, err := s.query(ctx, s.db,
		`SELECT s.id, s.kind, s.description, s.last_alert, s.last_status
		 FROM alert_sources x JOIN sources s ON s.id = x.source_id
		 WHERE x.alert_id = ? ORDER BY x.position`, a.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			src              alert.Source
			kind             string
			lastAlert, lastS int64
		)
		if err := rows.Scan(&src.ID, &kind, &src.Description, &lastAlert, &lastS); err != nil {
			return nil, err
		}
		src.Kind = alert.SourceKind(kind)
		src.LastAlert, src.LastStatus = fromMillis(lastAlert), fromMillis(lastS)
		a.Sources = append(a.Sources, src)
	}
	return &a, rows.Err()
}

func (s *sqlStore) CommitAlert(ctx context.Context, a *alert.Alert, h alert.HistoryEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx,
			`INSERT INTO alerts(`+alertColumns+`) VALUES(?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET keyword=excluded.keyword, message=excluded.message,
			   location=excluded.location, info=excluded.info, silent=excluded.silent, manual=excluded.manual`,
			a.ID, a.Unit.Code, toMillis(a.Timestamp), a.Keyword, a.Message, a.Location,
			int(a.Info), b2i(a.Silent), b2i(a.Manual),
		)
		if err != nil {
			return err
		}
		for i, src := range a.Sources {
			if _, err := s.exec(ctx, tx,
				`INSERT INTO alert_sources(alert_id, source_id, position) VALUES(?,?,?)
				 ON CONFLICT(alert_id, source_id) DO NOTHING`,
				a.ID, src.ID, i,
			); err != nil {
				return err
			}
		}
		return s.appendHistory(ctx, tx, h)
	})
}

// ---- history ----

func (s *sqlStore) AppendHistory(ctx context.Context, h alert.HistoryEntry) error {
	return s.appendHistory(ctx, s.db, h)
}

func (s *sqlStore) appendHistory(ctx context.Context, q queryer, h alert.HistoryEntry) error {
	_, err := s.exec(ctx, q, `INSERT INTO alert_history(unit_code, info, ts) VALUES(?,?,?)`,
		h.UnitCode, int(h.Info), toMillis(h.Timestamp))
	return err
}

func (s *sqlStore) HistoryPeak(ctx context.Context, unitCode int, since time.Time) (alert.InformationContent, bool, error) {
	var peak sql.NullInt64
	err := s.row(ctx, s.db, `SELECT MAX(info) FROM alert_history WHERE unit_code = ? AND ts >= ?`,
		unitCode, since.UnixMilli()).Scan(&peak)
	if err != nil {
		return 0, false, err
	}
	if !peak.Valid {
		return 0, false, nil
	}
	return alert.InformationContent(peak.Int64), true, nil
}

func (s *sqlStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM alert_history WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- groups, users, sinks ----

func (s *sqlStore) GetGroup(ctx context.Context, id string) (alert.Group, error) {
	var (
		g    alert.Group
		resp string
	)
	err := s.row(ctx, s.db, `SELECT id, name, response FROM alert_groups WHERE id = ?`, id).Scan(&g.ID, &g.Name, &resp)
	if err != nil {
		return alert.Group{}, notFound(err)
	}
	if err := json.Unmarshal([]byte(resp), &g.Response); err != nil {
		return alert.Group{}, fmt.Errorf("group %s: response config: %w", id, err)
	}

	g.Units, err = s.ints(ctx, `SELECT unit_code FROM group_units WHERE group_id = ? ORDER BY unit_code`, id)
	if err != nil {
		return alert.Group{}, err
	}

	rows, err := s.query(ctx, s.db,
		`SELECT user_id, leader FROM group_members WHERE group_id = ? ORDER BY position`, id)
	if err != nil {
		return alert.Group{}, err
	}
	var ids []string
	for rows.Next() {
		var (
			uid    string
			leader int
		)
		if err := rows.Scan(&uid, &leader); err != nil {
			rows.Close()
			return alert.Group{}, err
		}
		ids = append(ids, uid)
		if leader != 0 {
			g.Leaders = append(g.Leaders, uid)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return alert.Group{}, err
	}
	for _, uid := range ids {
		u, err := s.GetUser(ctx, uid)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return alert.Group{}, err
		}
		g.Members = append(g.Members, u)
	}

	g.Sinks, err = s.sinksOf(ctx, alert.OwnerGroup, id)
	if err != nil {
		return alert.Group{}, err
	}
	return g, nil
}

func (s *sqlStore) SaveGroup(ctx context.Context, g alert.Group) error {
	resp, err := json.Marshal(g.Response)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx,
			`INSERT INTO alert_groups(id, name, response) VALUES(?,?,?)
			 ON CONFLICT(id) DO UPDATE SET name=excluded.name, response=excluded.response`,
			g.ID, g.Name, string(resp),
		); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM group_units WHERE group_id = ?`, g.ID); err != nil {
			return err
		}
		for _, code := range g.Units {
			if _, err := s.exec(ctx, tx,
				`INSERT INTO group_units(group_id, unit_code) VALUES(?,?) ON CONFLICT(group_id, unit_code) DO NOTHING`,
				g.ID, code,
			); err != nil {
				return err
			}
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM group_members WHERE group_id = ?`, g.ID); err != nil {
			return err
		}
		for i, u := range g.Members {
			if err := s.saveUser(ctx, tx, u); err != nil {
				return err
			}
			if _, err := s.exec(ctx, tx,
				`INSERT INTO group_members(group_id, user_id, position, leader) VALUES(?,?,?,?)`,
				g.ID, u.ID, i, b2i(g.IsLeader(u.ID)),
			); err != nil {
				return err
			}
		}
		for _, sk := range g.Sinks {
			sk.Owner, sk.OwnerID = alert.OwnerGroup, g.ID
			if err := s.saveSink(ctx, tx, sk); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqlStore) ListGroups(ctx context.Context) ([]alert.Group, error) {
	ids, err := s.strings(ctx, `SELECT id FROM alert_groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return s.groups(ctx, ids)
}

func (s *sqlStore) GroupsForUnit(ctx context.Context, code int) ([]alert.Group, error) {
	ids, err := s.strings(ctx,
		`SELECT DISTINCT group_id FROM group_units WHERE unit_code = ? OR unit_code = ? ORDER BY group_id`,
		code, alert.AllAlertsUnitCode)
	if err != nil {
		return nil, err
	}
	return s.groups(ctx, ids)
}

func (s *sqlStore) groups(ctx context.Context, ids []string) ([]alert.Group, error) {
	out := make([]alert.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGroup(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *sqlStore) GetUser(ctx context.Context, id string) (alert.User, error) {
	var u alert.User
	err := s.row(ctx, s.db, `SELECT id, first_name, last_name, telegram_id FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.TelegramID)
	if err != nil {
		return alert.User{}, notFound(err)
	}
	u.Sinks, err = s.sinksOf(ctx, alert.OwnerUser, id)
	if err != nil {
		return alert.User{}, err
	}
	return u, nil
}

func (s *sqlStore) SaveUser(ctx context.Context, u alert.User) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return s.saveUser(ctx, tx, u) })
}

func (s *sqlStore) saveUser(ctx context.Context, q queryer, u alert.User) error {
	if _, err := s.exec(ctx, q,
		`INSERT INTO users(id, first_name, last_name, telegram_id) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET first_name=excluded.first_name, last_name=excluded.last_name,
		   telegram_id=excluded.telegram_id`,
		u.ID, u.FirstName, u.LastName, u.TelegramID,
	); err != nil {
		return err
	}
	for _, sk := range u.Sinks {
		sk.Owner, sk.OwnerID = alert.OwnerUser, u.ID
		if err := s.saveSink(ctx, q, sk); err != nil {
			return err
		}
	}
	return nil
}

const sinkColumns = `id, kind, owner_kind, owner_id, target, active`

func (s *sqlStore) GetSink(ctx context.Context, id string) (alert.Sink, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+sinkColumns+` FROM sinks WHERE id = ?`, id)
	if err != nil {
		return alert.Sink{}, err
	}
	sinks, err := s.scanSinks(ctx, rows)
	if err != nil {
		return alert.Sink{}, err
	}
	if len(sinks) == 0 {
		return alert.Sink{}, ErrNotFound
	}
	return sinks[0], nil
}

func (s *sqlStore) sinksOf(ctx context.Context, kind alert.OwnerKind, ownerID string) ([]alert.Sink, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT `+sinkColumns+` FROM sinks WHERE owner_kind = ? AND owner_id = ? ORDER BY id`,
		string(kind), ownerID)
	if err != nil {
		return nil, err
	}
	return s.scanSinks(ctx, rows)
}

// scanSinks drains rows before loading subscriptions; sqlite runs with a
// single connection.
func (s *sqlStore) scanSinks(ctx context.Context, rows *sql.Rows) ([]alert.Sink, error) {
	var out []alert.Sink
	for rows.Next() {
		var (
			sk          alert.Sink
			kind, owner string
			active      int
		)
		if err := rows.Scan(&sk.ID, &kind, &owner, &sk.OwnerID, &sk.Target, &active); err != nil {
			rows.Close()
			return nil, err
		}
		sk.Kind, sk.Owner, sk.Active = alert.SinkKind(kind), alert.OwnerKind(owner), active != 0
		out = append(out, sk)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		subs, err := s.query(ctx, s.db,
			`SELECT unit_code, active FROM sink_subscriptions WHERE sink_id = ? ORDER BY unit_code`, out[i].ID)
		if err != nil {
			return nil, err
		}
		for subs.Next() {
			var sub alert.UnitSubscription
			var active int
			if err := subs.Scan(&sub.UnitCode, &active); err != nil {
				subs.Close()
				return nil, err
			}
			sub.Active = active != 0
			out[i].Subscriptions = append(out[i].Subscriptions, sub)
		}
		subs.Close()
		if err := subs.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *sqlStore) SaveSink(ctx context.Context, sk alert.Sink) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return s.saveSink(ctx, tx, sk) })
}

func (s *sqlStore) saveSink(ctx context.Context, q queryer, sk alert.Sink) error {
	if _, err := s.exec(ctx, q,
		`INSERT INTO sinks(`+sinkColumns+`) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, owner_kind=excluded.owner_kind,
		   owner_id=excluded.owner_id, target=excluded.target, active=excluded.active`,
		sk.ID, string(sk.Kind), string(sk.Owner), sk.OwnerID, sk.Target, b2i(sk.Active),
	); err != nil {
		return err
	}
	if _, err := s.exec(ctx, q, `DELETE FROM sink_subscriptions WHERE sink_id = ?`, sk.ID); err != nil {
		return err
	}
	for _, sub := range sk.Subscriptions {
		if _, err := s.exec(ctx, q,
			`INSERT INTO sink_subscriptions(sink_id, unit_code, active) VALUES(?,?,?)
			 ON CONFLICT(sink_id, unit_code) DO UPDATE SET active=excluded.active`,
			sk.ID, sub.UnitCode, b2i(sub.Active),
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) SetSinkActive(ctx context.Context, id string, active bool) error {
	return s.updateOne(ctx, `UPDATE sinks SET active = ? WHERE id = ?`, b2i(active), id)
}

func (s *sqlStore) SetSinkTarget(ctx context.Context, id, target string) error {
	return s.updateOne(ctx, `UPDATE sinks SET target = ? WHERE id = ?`, target, id)
}

func (s *sqlStore) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := s.exec(ctx, s.db, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- responses ----

func (s *sqlStore) EnsureAlertResponse(ctx context.Context, alertID, groupID string, now time.Time) (*alert.AlertResponse, bool, error) {
	fresh := alert.NewAlertResponse(alertID, groupID, now)
	res, err := s.exec(ctx, s.db,
		`INSERT INTO alert_responses(id, alert_id, group_id, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(alert_id, group_id) DO NOTHING`,
		fresh.ID, alertID, groupID, toMillis(now),
	)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return fresh, true, nil
	}
	var id string
	if err := s.row(ctx, s.db, `SELECT id FROM alert_responses WHERE alert_id = ? AND group_id = ?`,
		alertID, groupID).Scan(&id); err != nil {
		return nil, false, notFound(err)
	}
	ar, err := s.GetAlertResponse(ctx, id)
	return ar, false, err
}

func (s *sqlStore) GetAlertResponse(ctx context.Context, id string) (*alert.AlertResponse, error) {
	var (
		ar      alert.AlertResponse
		created int64
	)
	err := s.row(ctx, s.db, `SELECT id, alert_id, group_id, created_at FROM alert_responses WHERE id = ?`, id).
		Scan(&ar.ID, &ar.AlertID, &ar.GroupID, &created)
	if err != nil {
		return nil, notFound(err)
	}
	ar.CreatedAt = fromMillis(created)

	rows, err := s.query(ctx, s.db,
		`SELECT id, user_id, user_name, ts, option_json, sink_id FROM user_responses
		 WHERE alert_response_id = ? ORDER BY ts, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r   alert.UserResponse
			ts  int64
			opt string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.UserName, &ts, &opt, &r.SinkID); err != nil {
			return nil, err
		}
		r.Timestamp = fromMillis(ts)
		if err := json.Unmarshal([]byte(opt), &r.Option); err != nil {
			return nil, fmt.Errorf("response %s: option: %w", r.ID, err)
		}
		ar.Responses = append(ar.Responses, r)
	}
	return &ar, rows.Err()
}

func (s *sqlStore) AlertResponsesForAlert(ctx context.Context, alertID string) ([]*alert.AlertResponse, error) {
	ids, err := s.strings(ctx, `SELECT id FROM alert_responses WHERE alert_id = ? ORDER BY group_id`, alertID)
	if err != nil {
		return nil, err
	}
	out := make([]*alert.AlertResponse, 0, len(ids))
	for _, id := range ids {
		ar, err := s.GetAlertResponse(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ar)
	}
	return out, nil
}

func (s *sqlStore) SaveUserResponse(ctx context.Context, alertResponseID string, r alert.UserResponse) error {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	opt, err := json.Marshal(r.Option)
	if err != nil {
		return err
	}
	var exists int
	if err := s.row(ctx, s.db, `SELECT COUNT(*) FROM alert_responses WHERE id = ?`, alertResponseID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	_, err = s.exec(ctx, s.db,
		`INSERT INTO user_responses(id, alert_response_id, user_id, user_name, ts, option_json, sink_id)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(alert_response_id, user_id) DO UPDATE SET id=excluded.id, user_name=excluded.user_name,
		   ts=excluded.ts, option_json=excluded.option_json, sink_id=excluded.sink_id`,
		r.ID, alertResponseID, r.UserID, r.UserName, toMillis(r.Timestamp), string(opt), r.SinkID,
	)
	return err
}

// ---- settings ----

func (s *sqlStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.row(ctx, s.db, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqlStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO settings(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

// ---- helpers ----

func (s *sqlStore) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *sqlStore) ints(ctx context.Context, query string, args ...any) ([]int, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
