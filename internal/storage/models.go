package storage

import "time"

type AuditEntry struct {
	ID        int64
	Username  string
	Action    string
	MetaJSON  string
	CreatedAt time.Time
}
