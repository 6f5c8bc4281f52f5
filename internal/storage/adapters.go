package storage

// PostgresRepo serves every repository interface directly; the assertions
// keep the method sets in step with the interfaces.
var (
	_ LeadRepo         = (*PostgresRepo)(nil)
	_ ScoreHistoryRepo = (*PostgresRepo)(nil)
	_ RuleRepo         = (*PostgresRepo)(nil)
	_ SettingsRepo     = (*PostgresRepo)(nil)
	_ NotificationRepo = (*PostgresRepo)(nil)
	_ Transactor       = (*PostgresRepo)(nil)
	_ AssignmentStore  = (*txStore)(nil)
)
