package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
// The SQL is kept to the subset shared by SQLite and PostgreSQL.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS tasks (
	id                         TEXT PRIMARY KEY,
	restaurant_id              TEXT NOT NULL,
	title                      TEXT NOT NULL,
	description                TEXT NOT NULL DEFAULT '',
	task_type                  TEXT NOT NULL DEFAULT '',
	status                     TEXT NOT NULL DEFAULT 'pending',
	priority                   TEXT NOT NULL DEFAULT 'medium',
	due_date                   TIMESTAMP,
	scheduled_for              TIMESTAMP,
	assigned_to                TEXT NOT NULL DEFAULT '',
	created_by                 TEXT NOT NULL DEFAULT '',
	version                    INTEGER NOT NULL DEFAULT 1,
	escalation_level           INTEGER NOT NULL DEFAULT 0 CHECK(escalation_level >= 0),
	estimated_duration_minutes INTEGER,
	actual_duration_minutes    INTEGER,
	started_at                 TIMESTAMP,
	completed_at               TIMESTAMP,
	cancelled_at               TIMESTAMP,
	metadata                   TEXT NOT NULL DEFAULT '{}',
	created_at                 TIMESTAMP NOT NULL,
	updated_at                 TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id       TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	depends_on_id TEXT NOT NULL,
	position      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (task_id, depends_on_id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_restaurant_status ON tasks(restaurant_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);
CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date);
CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on ON task_dependencies(depends_on_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	restaurant_id TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	push_token    TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL DEFAULT 'staff',
	active        INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_users_restaurant_role ON users(restaurant_id, role);

CREATE TABLE IF NOT EXISTS notification_preferences (
	user_id             TEXT PRIMARY KEY,
	channels            TEXT NOT NULL DEFAULT '{}',
	notification_types  TEXT NOT NULL DEFAULT '{}',
	quiet_hours_enabled INTEGER NOT NULL DEFAULT 0 CHECK(quiet_hours_enabled IN (0, 1)),
	quiet_start         TEXT NOT NULL DEFAULT '22:00',
	quiet_end           TEXT NOT NULL DEFAULT '07:00',
	timezone            TEXT NOT NULL DEFAULT '',
	max_per_hour        INTEGER NOT NULL DEFAULT 0,
	max_per_day         INTEGER NOT NULL DEFAULT 0
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS escalation_rules (
	id                    TEXT PRIMARY KEY,
	restaurant_id         TEXT NOT NULL,
	position              INTEGER NOT NULL,
	task_type             TEXT NOT NULL DEFAULT '',
	priority              TEXT NOT NULL DEFAULT '',
	overdue_minutes       INTEGER NOT NULL DEFAULT 0,
	escalate_to_role      TEXT NOT NULL,
	notification_channels TEXT NOT NULL DEFAULT '[]',
	auto_reassign         INTEGER NOT NULL DEFAULT 0 CHECK(auto_reassign IN (0, 1)),
	max_escalations       INTEGER NOT NULL DEFAULT 3
);

CREATE INDEX IF NOT EXISTS idx_escalation_rules_restaurant ON escalation_rules(restaurant_id, position);

CREATE TABLE IF NOT EXISTS task_escalations (
	id           TEXT PRIMARY KEY,
	task_id      TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	level        INTEGER NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	escalated_by TEXT NOT NULL DEFAULT '',
	rule_id      TEXT NOT NULL DEFAULT '',
	auto         INTEGER NOT NULL DEFAULT 0 CHECK(auto IN (0, 1)),
	created_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_escalations_task_id ON task_escalations(task_id);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
	{
		version: 4,
		sql: `
CREATE TABLE IF NOT EXISTS notifications (
	id             TEXT PRIMARY KEY,
	restaurant_id  TEXT NOT NULL,
	recipient_id   TEXT NOT NULL,
	task_id        TEXT NOT NULL DEFAULT '',
	type           TEXT NOT NULL,
	channel        TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	message        TEXT NOT NULL DEFAULT '',
	payload        TEXT NOT NULL DEFAULT '{}',
	scheduled_for  TIMESTAMP NOT NULL,
	sent_at        TIMESTAMP,
	delivered_at   TIMESTAMP,
	read_at        TIMESTAMP,
	clicked_at     TIMESTAMP,
	failed_at      TIMESTAMP,
	failure_reason TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0 CHECK(retry_count >= 0),
	created_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_unsent ON notifications(restaurant_id, sent_at, retry_count);

INSERT INTO schema_version (version) VALUES (4);
`,
	},
}
