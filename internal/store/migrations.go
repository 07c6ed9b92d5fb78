package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reboot_requirement (
	host                 TEXT PRIMARY KEY,
	required             INTEGER NOT NULL DEFAULT 0 CHECK(required IN (0, 1)),
	hard                 INTEGER NOT NULL DEFAULT 0 CHECK(hard IN (0, 1)),
	first_detected_at    DATETIME,
	last_checked_at      DATETIME NOT NULL,
	contributing_methods TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS notification_events (
	id                 TEXT PRIMARY KEY,
	host               TEXT NOT NULL,
	sent_at            DATETIME NOT NULL,
	kind               TEXT NOT NULL CHECK(kind IN ('reminder', 'transition', 'interaction')),
	severity           TEXT NOT NULL DEFAULT '',
	message_key        TEXT NOT NULL DEFAULT '',
	channel            TEXT NOT NULL DEFAULT '',
	user_identity      TEXT NOT NULL DEFAULT '',
	interaction        TEXT NOT NULL DEFAULT 'none-yet',
	deferral_chosen_ns INTEGER,
	bucket_index       INTEGER NOT NULL DEFAULT -1,
	ref_id             TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS deferral_state (
	host           TEXT PRIMARY KEY,
	active_until   DATETIME,
	postpone_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_events_host_sent ON notification_events(host, sent_at);
CREATE INDEX IF NOT EXISTS idx_events_host_kind ON notification_events(host, kind, sent_at);
CREATE INDEX IF NOT EXISTS idx_events_ref ON notification_events(ref_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS reboot_history (
	id           TEXT PRIMARY KEY,
	host         TEXT NOT NULL,
	requested_at DATETIME NOT NULL,
	finished_at  DATETIME NOT NULL,
	outcome      TEXT NOT NULL CHECK(outcome IN ('completed', 'cancelled', 'failed')),
	requested_by TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reboot_history_host ON reboot_history(host, finished_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
