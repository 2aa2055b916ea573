// Package issuance implements bulk certificate issuance: a parameter
// table (CSV or JSON) drives one rendered-and-certified document per row
// against a template, mirroring pkg/bulletin's typed-state design for
// the issuance and per-row entry lifecycle.
package issuance

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"text/template"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitcertify/certify/pkg/cerr"
	"github.com/bitcertify/certify/pkg/payload"
)

// Status is an issuance's lifecycle stage.
type Status string

const (
	StatusReceived  Status = "received"
	StatusCreated   Status = "created"
	StatusSigned    Status = "signed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// EntryStatus is a single row's lifecycle stage.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntryCreated EntryStatus = "created"
	EntrySigned  EntryStatus = "signed"
	EntryFailed  EntryStatus = "failed"
)

// Entry is one row of the parameter table, and the document it produces.
// RenderedPayload is the per-entry content Create's render function
// produced, kept so the
// signing iterator can re-verify a caller's signature over exactly the
// bytes that were rendered.
type Entry struct {
	ID              int64
	IssuanceID      int64
	RowNumber       int
	Params          map[string]string
	RenderedPayload []byte
	DocumentID      *int64
	Status          EntryStatus
	Error           string
	Notified        bool
}

// Record is the persisted issuance row.
type Record struct {
	ID             int64
	OrganizationID int64
	Name           string
	Status         Status
	TemplateKey    string
}

// Repository persists issuances and entries.
type Repository interface {
	Insert(ctx context.Context, rec Record, entries []Entry) (int64, error)
	SetStatus(ctx context.Context, id int64, status Status) error
	SetEntryRendered(ctx context.Context, entryID int64, payload []byte, status EntryStatus) error
	SetEntryResult(ctx context.Context, entryID int64, documentID int64, status EntryStatus) error
	SetEntryFailed(ctx context.Context, entryID int64, errMsg string) error
	SetEntryNotified(ctx context.Context, entryID int64) error
	PendingEntries(ctx context.Context, issuanceID int64) ([]Entry, error)
	// CreatedEntries returns entries in EntryCreated state, ordered by
	// RowNumber, for the signing iterator.
	CreatedEntries(ctx context.Context, issuanceID int64) ([]Entry, error)
	// SignedEntries returns entries in EntrySigned state, for try_complete.
	SignedEntries(ctx context.Context, issuanceID int64) ([]Entry, error)
	GetEntry(ctx context.Context, entryID int64) (Entry, error)
	// IssuancesByStatus lists issuance ids in the given status, for the
	// worker loop's issuance-creator and issuance-completer cadences to
	// sweep across every organization.
	IssuancesByStatus(ctx context.Context, status Status) ([]int64, error)
	// GetRecord returns the issuance row itself (name, template key),
	// for the worker loop to resolve which template to render entries
	// against.
	GetRecord(ctx context.Context, issuanceID int64) (Record, error)
}

// ParseCSV reads a parameter table where the first row is the header.
// Every row becomes one Entry with RowNumber starting at 1.
func ParseCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, cerr.NewValidation("issuance", "empty_csv")
	}

	var entries []Entry
	rowNum := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, cerr.NewValidation("issuance", "malformed_csv")
		}
		rowNum++
		params := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				params[col] = row[i]
			}
		}
		entries = append(entries, Entry{RowNumber: rowNum, Params: params, Status: EntryPending})
	}
	if len(entries) == 0 {
		return nil, cerr.NewValidation("issuance", "no_rows")
	}
	return entries, nil
}

// ParseJSON reads a parameter table as a JSON array of flat string maps.
func ParseJSON(r io.Reader) ([]Entry, error) {
	var rows []map[string]string
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, cerr.NewValidation("issuance", "malformed_json")
	}
	if len(rows) == 0 {
		return nil, cerr.NewValidation("issuance", "no_rows")
	}

	entries := make([]Entry, len(rows))
	for i, row := range rows {
		entries[i] = Entry{RowNumber: i + 1, Params: row, Status: EntryPending}
	}
	return entries, nil
}

// RenderTemplate renders a .tera-suffixed template file against an
// entry's params. Tera's `{{ field }}` syntax maps directly onto Go's
// text/template `{{.field}}` once params are exposed as a map, so
// templates are translated (not interpreted) at render time via
// TranslateTeraSyntax.
func RenderTemplate(w io.Writer, templateSource string, params map[string]string) error {
	goSource := TranslateTeraSyntax(templateSource)
	tmpl, err := template.New("entry").Parse(goSource)
	if err != nil {
		return cerr.NewValidation("issuance", "bad_template")
	}
	if err := tmpl.Execute(w, params); err != nil {
		return cerr.NewValidation("issuance", "template_render_failed")
	}
	return nil
}

// NewIssuance validates and stores a parsed parameter table.
func NewIssuance(ctx context.Context, repo Repository, organizationID int64, name, templateKey string, entries []Entry) (Record, error) {
	if len(entries) == 0 {
		return Record{}, cerr.NewValidation("issuance", "no_rows")
	}
	rec := Record{OrganizationID: organizationID, Name: name, Status: StatusReceived, TemplateKey: templateKey}
	id, err := repo.Insert(ctx, rec, entries)
	if err != nil {
		return Record{}, err
	}
	rec.ID = id
	return rec, nil
}

// Create advances pending entries to Created by calling render for each
// row and persisting the bytes it returns, so the signing iterator can
// later verify a caller's signature over exactly what was rendered. A row
// whose render fails is marked EntryFailed and the issuance still moves
// to StatusCreated. Create does not unpack or rebuild template ZIPs: the
// entry content is whatever render returns, and cmd/certifyd's render
// executes the stored template as a single text template.
func Create(ctx context.Context, repo Repository, issuanceID int64, render func(Entry) ([]byte, error)) error {
	entries, err := repo.PendingEntries(ctx, issuanceID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		content, err := render(e)
		if err != nil {
			if serr := repo.SetEntryFailed(ctx, e.ID, err.Error()); serr != nil {
				return serr
			}
			continue
		}
		if err := repo.SetEntryRendered(ctx, e.ID, content, EntryCreated); err != nil {
			return err
		}
	}
	return repo.SetStatus(ctx, issuanceID, StatusCreated)
}

// EntrySignature is the caller-supplied proof that an entry's rendered
// payload was approved by its signer, matching spec.md's per-call
// signing-iterator input.
type EntrySignature struct {
	EntryID   int64
	Signature []byte
	Signer    string
}

// SignNext implements spec.md §4.6's signing iterator: stateless per
// call, idempotent, restartable. If sig is non-nil, it locates the named
// entry in EntryCreated state, verifies the signature over its rendered
// payload, and transitions it to EntrySigned by calling createDocument
// (which must itself be idempotent). It then returns the next EntryCreated entry, or nil with
// the issuance transitioned to StatusSigned when none remain.
func SignNext(ctx context.Context, repo Repository, issuanceID int64, sig *EntrySignature, params *chaincfg.Params, createDocument func(Entry, string) (int64, error)) (*Entry, error) {
	if sig != nil {
		e, err := repo.GetEntry(ctx, sig.EntryID)
		if err != nil {
			return nil, err
		}
		if e.Status != EntryCreated {
			return nil, cerr.NewInvalidFlowState("issuance_entry", string(e.Status), "sign")
		}
		if err := payload.Verify(payload.SignedPayload{
			Payload:   e.RenderedPayload,
			Signer:    sig.Signer,
			Signature: sig.Signature,
		}, params); err != nil {
			return nil, err
		}
		docID, err := createDocument(e, sig.Signer)
		if err != nil {
			return nil, err
		}
		if err := repo.SetEntryResult(ctx, e.ID, docID, EntrySigned); err != nil {
			return nil, err
		}
	}

	remaining, err := repo.CreatedEntries(ctx, issuanceID)
	if err != nil {
		return nil, err
	}
	if len(remaining) == 0 {
		return nil, repo.SetStatus(ctx, issuanceID, StatusSigned)
	}
	next := remaining[0]
	return &next, nil
}

// TryComplete implements spec.md §4.6's try_complete: the issuance becomes
// StatusCompleted once every signed entry has a document whose bulletin
// is published and has Notified set. Entries themselves stay EntrySigned;
// no per-entry completed state is recorded.
func TryComplete(ctx context.Context, repo Repository, issuanceID int64, documentPublished func(int64) (bool, error)) error {
	entries, err := repo.SignedEntries(ctx, issuanceID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	allDone := true
	for _, e := range entries {
		if e.DocumentID == nil {
			allDone = false
			continue
		}
		published, err := documentPublished(*e.DocumentID)
		if err != nil {
			return err
		}
		if !published || !e.Notified {
			allDone = false
			continue
		}
	}
	if allDone {
		return repo.SetStatus(ctx, issuanceID, StatusCompleted)
	}
	return nil
}

// notificationStatus reports the export column value for e, per
// spec.md §4.6's export format.
func notificationStatus(e Entry) string {
	switch {
	case e.Notified:
		return "notified"
	case e.DocumentID != nil:
		return "will_notify"
	default:
		return "will_not_notify"
	}
}

// ExportCSV writes entries in original row order with the columns
// spec.md §4.6 requires prepended ahead of the original schema columns:
// state, notification_status, admin_access_url, issuance_id, entry_id.
func ExportCSV(w io.Writer, issuanceID int64, adminAccessURL string, header []string, entries []Entry) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	full := append([]string{"state", "notification_status", "admin_access_url", "issuance_id", "entry_id"}, header...)
	if err := cw.Write(full); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			string(e.Status),
			notificationStatus(e),
			adminAccessURL,
			fmt.Sprintf("%d", issuanceID),
			fmt.Sprintf("%d", e.ID),
		}
		for _, col := range header {
			row = append(row, e.Params[col])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// ErrIssuanceFailed names the condition of an issuance whose every entry
// failed. No function in this package returns it: Create marks each failed
// entry EntryFailed and still moves the issuance to StatusCreated.
var ErrIssuanceFailed = fmt.Errorf("issuance: every entry failed")
