package storage

// schema is the full set of tables this module owns, following the
// teacher's cash_flows.InitSchema shape: one inline SQL const, execed
// once at startup, idempotent via IF NOT EXISTS.
const schema = `
CREATE TABLE IF NOT EXISTS emergency_state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	payload    TEXT NOT NULL,
	saved_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bundle_ledger (
	bundle_id     TEXT PRIMARY KEY,
	strategy      TEXT NOT NULL,
	target_block  INTEGER NOT NULL,
	leg_count     INTEGER NOT NULL,
	bid_tip_wei   TEXT NOT NULL,
	status        TEXT NOT NULL,
	submitted_at  TEXT NOT NULL,
	settled_at    TEXT
);

CREATE INDEX IF NOT EXISTS idx_bundle_ledger_status ON bundle_ledger(status);
CREATE INDEX IF NOT EXISTS idx_bundle_ledger_strategy ON bundle_ledger(strategy);

CREATE TABLE IF NOT EXISTS incident_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	level       TEXT NOT NULL,
	component   TEXT NOT NULL,
	reason      TEXT NOT NULL,
	metadata    TEXT,
	occurred_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incident_log_level ON incident_log(level);
CREATE INDEX IF NOT EXISTS idx_incident_log_occurred_at ON incident_log(occurred_at);
`

// InitSchema creates every table this module needs, if they don't already
// exist. Safe to call on every startup.
func InitSchema(db *DB) error {
	_, err := db.conn.Exec(schema)
	return err
}
