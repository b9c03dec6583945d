package storage

// Dialect selects the SQL flavour of a SQL store.
type Dialect string

const (
	SQLite Dialect = "sqlite"
	MySQL  Dialect = "mysql"
)

// lockClause is appended to reads that precede a write in the same
// transaction. SQLite serializes writers on its single connection instead.
func (d Dialect) lockClause() string {
	if d == MySQL {
		return " FOR UPDATE"
	}
	return ""
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		org_id VARCHAR(64) NOT NULL,
		name VARCHAR(100) NOT NULL,
		project_key VARCHAR(10) NOT NULL,
		description TEXT NOT NULL,
		admin_ids TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		INDEX idx_projects_org (org_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS sprints (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		project_id VARCHAR(64) NOT NULL,
		name VARCHAR(200) NOT NULL,
		status VARCHAR(16) NOT NULL,
		start_date BIGINT NOT NULL,
		end_date BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		INDEX idx_sprints_project (project_id, start_date),
		INDEX idx_sprints_status (status, end_date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS issues (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		project_id VARCHAR(64) NOT NULL,
		sprint_id VARCHAR(64) NOT NULL DEFAULT '',
		title VARCHAR(500) NOT NULL,
		description TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		priority VARCHAR(16) NOT NULL,
		sort_order INT NOT NULL,
		assignee_id VARCHAR(64) NOT NULL DEFAULT '',
		reporter_id VARCHAR(64) NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		INDEX idx_issues_board (project_id, sprint_id, status, sort_order),
		INDEX idx_issues_bucket (project_id, status),
		INDEX idx_issues_assignee (assignee_id),
		INDEX idx_issues_reporter (reporter_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT NOT NULL PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		project_key TEXT NOT NULL,
		description TEXT NOT NULL,
		admin_ids TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_org ON projects (org_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS sprints (
		id TEXT NOT NULL PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date INTEGER NOT NULL,
		end_date INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sprints_project ON sprints (project_id, start_date)`,
	`CREATE INDEX IF NOT EXISTS idx_sprints_status ON sprints (status, end_date)`,
	`CREATE TABLE IF NOT EXISTS issues (
		id TEXT NOT NULL PRIMARY KEY,
		project_id TEXT NOT NULL,
		sprint_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		sort_order INTEGER NOT NULL,
		assignee_id TEXT NOT NULL DEFAULT '',
		reporter_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_board ON issues (project_id, sprint_id, status, sort_order)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_bucket ON issues (project_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_assignee ON issues (assignee_id)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_reporter ON issues (reporter_id)`,
}

func (d Dialect) schema() []string {
	if d == MySQL {
		return mysqlSchema
	}
	return sqliteSchema
}
