// Package database implements Postgres-backed persistence for every
// domain package (ledger, bulletin, document, issuance) behind the
// Repositories aggregate.
package database

import "errors"

// Sentinel errors for repository operations.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrBulletinNotFound  = errors.New("bulletin not found")
	ErrIssuanceNotFound  = errors.New("issuance not found")
)
