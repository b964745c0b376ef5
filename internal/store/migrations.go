package store

const schema = `
CREATE TABLE IF NOT EXISTS visitor_sessions (
    id         TEXT PRIMARY KEY,
    timestamp  DATETIME NOT NULL,
    direction  TEXT NOT NULL CHECK (direction IN ('in', 'out')),
    person_id  TEXT,
    camera_id  TEXT,
    date       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_date ON visitor_sessions(date);
CREATE INDEX IF NOT EXISTS idx_sessions_timestamp ON visitor_sessions(timestamp);

CREATE TABLE IF NOT EXISTS interest_events (
    id         TEXT PRIMARY KEY,
    timestamp  DATETIME NOT NULL,
    duration   INTEGER NOT NULL DEFAULT 0,
    person_id  TEXT,
    camera_id  TEXT,
    date       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interest_date ON interest_events(date);

CREATE TABLE IF NOT EXISTS theft_alerts (
    id            TEXT PRIMARY KEY,
    timestamp     DATETIME NOT NULL,
    snapshot_path TEXT NOT NULL,
    camera_id     TEXT,
    confidence    REAL,
    alert_type    TEXT,
    person_id     TEXT,
    date          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_date ON theft_alerts(date);
CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON theft_alerts(timestamp);

CREATE TABLE IF NOT EXISTS analytics_summary (
    id             TEXT PRIMARY KEY,
    date           TEXT NOT NULL UNIQUE,
    total_in       INTEGER NOT NULL DEFAULT 0,
    total_interest INTEGER NOT NULL DEFAULT 0,
    total_out      INTEGER NOT NULL DEFAULT 0,
    total_theft    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS push_subscriptions (
    endpoint   TEXT PRIMARY KEY,
    keys       TEXT NOT NULL DEFAULT '{}',
    user_id    TEXT,
    created_at DATETIME NOT NULL
);
`
