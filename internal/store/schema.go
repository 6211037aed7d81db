package store

// Schema is the DDL for the store's tables, applied at service start.
const Schema = `
CREATE TABLE IF NOT EXISTS source_configs (
	id                BIGINT PRIMARY KEY,
	team_id           TEXT NOT NULL,
	source            TEXT NOT NULL,
	source_token      TEXT NOT NULL DEFAULT '',
	webhook_secret    TEXT NOT NULL DEFAULT '',
	destination_token TEXT NOT NULL DEFAULT '',
	destination_id    TEXT NOT NULL DEFAULT '',
	bot_handle        TEXT NOT NULL DEFAULT '',
	ai_enabled        BOOLEAN NOT NULL DEFAULT TRUE,
	auto_process      BOOLEAN NOT NULL DEFAULT TRUE,
	post_ack          BOOLEAN NOT NULL DEFAULT TRUE,
	summary_prompt    TEXT NOT NULL DEFAULT '',
	task_prompt       TEXT NOT NULL DEFAULT '',
	available_domains TEXT[] NOT NULL DEFAULT '{}',
	field_mapping     JSONB NOT NULL DEFAULT '{}',
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_source_configs_team_source
	ON source_configs (team_id, source) WHERE active;

CREATE TABLE IF NOT EXISTS jobs (
	id                   BIGINT PRIMARY KEY,
	thread_id            TEXT NOT NULL,
	team_id              TEXT NOT NULL,
	source               TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'pending',
	attempt              INT NOT NULL DEFAULT 0,
	last_completed_stage TEXT,
	failed_stage         TEXT,
	error                TEXT,
	stages               JSONB NOT NULL DEFAULT '[]',
	created_tasks        JSONB NOT NULL DEFAULT '[]',
	is_multi_task        BOOLEAN NOT NULL DEFAULT FALSE,
	processing_time_ms   BIGINT NOT NULL DEFAULT 0,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_thread ON jobs (thread_id, created_at DESC);

CREATE TABLE IF NOT EXISTS identity_mappings (
	id             BIGINT PRIMARY KEY,
	team_id        TEXT NOT NULL,
	source         TEXT NOT NULL,
	source_user_id TEXT NOT NULL,
	destination_id TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (team_id, source, source_user_id)
);
`
