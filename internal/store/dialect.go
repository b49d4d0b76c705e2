package store

type dialect struct {
	name       string
	schema     []string
	insertUser string
	vacuum     string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
    telegram TEXT PRIMARY KEY,
    tg_chat_id INTEGER,
    updated_at INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS recognition_jobs (
    id TEXT PRIMARY KEY,
    telegram TEXT NOT NULL,
    object_key TEXT NOT NULL,
    operation_id TEXT NOT NULL,
    status TEXT NOT NULL,
    transcript_len INTEGER NOT NULL,
    error TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON recognition_jobs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user ON recognition_jobs(telegram, created_at)`,
	},
	insertUser: `INSERT INTO users(telegram, updated_at) VALUES(?, ?) ON CONFLICT(telegram) DO NOTHING`,
	vacuum:     `VACUUM`,
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
    telegram VARCHAR(64) PRIMARY KEY,
    tg_chat_id BIGINT NULL,
    updated_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS recognition_jobs (
    id VARCHAR(64) PRIMARY KEY,
    telegram VARCHAR(64) NOT NULL,
    object_key VARCHAR(512) NOT NULL,
    operation_id VARCHAR(128) NOT NULL,
    status VARCHAR(16) NOT NULL,
    transcript_len INT NOT NULL,
    error TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    finished_at BIGINT NOT NULL,
    INDEX idx_jobs_created (created_at),
    INDEX idx_jobs_user (telegram, created_at)
)`,
	},
	insertUser: `INSERT IGNORE INTO users(telegram, updated_at) VALUES(?, ?)`,
}
