package document

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"path"
	"strconv"
	"strings"

	"github.com/bitcertify/certify/pkg/cerr"
	"github.com/bitcertify/certify/pkg/store"
)

// indexedPart pairs a Part with the raw bytes it covers, so Submit can
// store them without re-deriving the slice from contentType later.
type indexedPart struct {
	part Part
	data []byte
}

// indexPartsWithData splits a container document into its
// independently-hashed members, paired with their raw bytes, per
// spec.md §4.5's create_parts dispatch:
//   - message/rfc822: base part is the raw email; a non-base part for the
//     body (if present); attachments recursed, including into nested ZIPs.
//   - application/zip (and Office Open XML, which sniffs as ZIP): base
//     part "full_zip_file" plus one non-base part per archive member.
//   - anything else: a single base part named "document<ext>".
func indexPartsWithData(data []byte, contentType string) ([]indexedPart, error) {
	switch {
	case isOfficeOrZip(contentType):
		members, err := indexZip(data)
		if err != nil {
			return nil, err
		}
		base := indexedPart{
			part: basePart(data, "full_zip_file", contentType),
			data: data,
		}
		return append([]indexedPart{base}, members...), nil
	case contentType == "message/rfc822":
		return indexEmail(data)
	default:
		return []indexedPart{{
			part: basePart(data, "document"+extensionFor(contentType), contentType),
			data: data,
		}}, nil
	}
}

func basePart(data []byte, name, contentType string) Part {
	h := hashHex(data)
	return Part{
		Hash:         h,
		FriendlyName: name,
		MimeType:     contentType,
		SizeBytes:    int64(len(data)),
		IsBase:       true,
		StorageKey:   store.Key{Prefix: "dp-", ID: h},
	}
}

func memberPart(data []byte, name, contentType string) indexedPart {
	h := hashHex(data)
	return indexedPart{
		part: Part{
			Hash:         h,
			FriendlyName: name,
			MimeType:     contentType,
			SizeBytes:    int64(len(data)),
			IsBase:       false,
			StorageKey:   store.Key{Prefix: "dp-", ID: h},
		},
		data: data,
	}
}

// indexZip indexes every non-directory member of a ZIP archive as a
// non-base part named after its archive path. A ZIP member whose name
// escapes the archive root (path traversal) fails validation, matching
// spec.md's "malformed entry name" edge case. Members that are
// themselves ZIPs are not recursed here (that recursion is only
// specified for email attachments); a ZIP-of-ZIPs indexes its inner
// archive as one opaque member, matching the base-document case.
func indexZip(data []byte) ([]indexedPart, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, cerr.NewValidation("document", "malformed_zip")
	}

	var parts []indexedPart
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := validateZipEntryName(f.Name); err != nil {
			return nil, err
		}

		rc, err := f.Open()
		if err != nil {
			return nil, cerr.NewValidation("document", "unreadable_zip_entry")
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, cerr.NewValidation("document", "unreadable_zip_entry")
		}

		parts = append(parts, memberPart(content, f.Name, sniff(content)))
	}
	return parts, nil
}

// validateZipEntryName rejects absolute paths and any path component
// that would escape the archive root when joined, per spec.md's
// ValidationError(payload) edge case for malformed ZIP entry names.
func validateZipEntryName(name string) error {
	if name == "" || path.IsAbs(name) {
		return cerr.NewValidation("payload", "malformed_zip_entry_name")
	}
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return cerr.NewValidation("payload", "malformed_zip_entry_name")
	}
	return nil
}

// indexEmail indexes an rfc822 message: a base part covering the raw
// email, a non-base part for the body if one exists distinct from the
// whole message, and one non-base part per attachment (recursing into
// any attachment that is itself a ZIP).
func indexEmail(data []byte) ([]indexedPart, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, cerr.NewValidation("document", "malformed_email")
	}

	base := indexedPart{part: basePart(data, "email.eml", "message/rfc822"), data: data}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		body, err := io.ReadAll(msg.Body)
		if err != nil {
			return nil, cerr.NewValidation("document", "unreadable_email_body")
		}
		if len(body) == 0 {
			return []indexedPart{base}, nil
		}
		return []indexedPart{base, memberPart(body, "body.txt", sniff(body))}, nil
	}

	reader := multipart.NewReader(msg.Body, params["boundary"])
	parts := []indexedPart{base}
	unnamedCount := 0
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, cerr.NewValidation("document", "malformed_email")
		}
		content, err := io.ReadAll(part)
		if err != nil {
			return nil, cerr.NewValidation("document", "malformed_email")
		}

		contentType := sniff(content)
		name := attachmentName(part, contentType, &unnamedCount)

		if contentType == "application/zip" {
			nested, err := indexZip(content)
			if err != nil {
				return nil, err
			}
			parts = append(parts, nested...)
			continue
		}
		parts = append(parts, memberPart(content, name, contentType))
	}
	return parts, nil
}

// attachmentName derives an email subpart's friendly name from its
// Content-Disposition filename, synthesizing "unnamed_attachment<ext>"
// when none is given.
func attachmentName(part *multipart.Part, contentType string, unnamedCount *int) string {
	if name := part.FileName(); name != "" {
		return name
	}
	*unnamedCount++
	suffix := ""
	if *unnamedCount > 1 {
		suffix = strconv.Itoa(*unnamedCount)
	}
	return fmt.Sprintf("unnamed_attachment%s%s", suffix, extensionFor(contentType))
}

func extensionFor(contentType string) string {
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
