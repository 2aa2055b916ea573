package database

// Repositories is a convenience wrapper giving callers a single point of
// access to every domain repository backed by this database client.
type Repositories struct {
	Bulletins    *BulletinRepository
	Ledger       *LedgerRepository
	Documents    *DocumentRepository
	Issuances    *IssuanceRepository
	Stories      *StoryRepository
	Endorsements *EndorsementRepository
	Proofs       *ProofRepository
}

// NewRepositories builds every repository against the same client.
func NewRepositories(client *Client) *Repositories {
	db := client.DB()
	return &Repositories{
		Bulletins:    NewBulletinRepository(db),
		Ledger:       NewLedgerRepository(db),
		Documents:    NewDocumentRepository(db),
		Issuances:    NewIssuanceRepository(db),
		Stories:      NewStoryRepository(db),
		Endorsements: NewEndorsementRepository(db),
		Proofs:       NewProofRepository(db),
	}
}
