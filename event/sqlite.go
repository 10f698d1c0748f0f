package event

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteStore persists the event log. AUTOINCREMENT keeps sequence
// numbers monotonic and never reused, even across process restarts.
type SqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
	}

	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		create table if not exists events (
			seq integer primary key autoincrement,
			run_id text not null,
			kind text not null,
			payload text not null, -- json
			created integer not null -- unix nanos
		);

		create index if not exists events_run_id on events (run_id);
	`)
	if err != nil {
		return nil, err
	}

	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Append(ev Event) (uint64, error) {
	if ev.Created.IsZero() {
		ev.Created = time.Now()
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return 0, err
	}

	res, err := s.db.Exec(
		`insert into events (run_id, kind, payload, created) values (?, ?, ?, ?)`,
		ev.RunID,
		string(ev.Kind),
		string(payload),
		ev.Created.UnixNano(),
	)
	if err != nil {
		return 0, err
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

func (s *SqliteStore) After(cursor uint64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = subscribeBatch
	}

	rows, err := s.db.Query(`
		select seq, run_id, kind, payload, created
		from events
		where seq > ?
		order by seq asc
		limit ?
	`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evts []Event
	for rows.Next() {
		var (
			ev      Event
			kind    string
			payload string
			created int64
		)
		if err := rows.Scan(&ev.Seq, &ev.RunID, &kind, &payload, &created); err != nil {
			return nil, err
		}
		ev.Kind = Kind(kind)
		ev.Created = time.Unix(0, created)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, err
		}
		evts = append(evts, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return evts, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}
