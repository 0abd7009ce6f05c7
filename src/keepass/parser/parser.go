// Package parser reads and writes the XML document inside a KeePass
// database.
//
// Protected values are masked with one inner random stream per document.
// The stream is consumed in document order, which the writer fixes as
// follows: inline binaries marked protected in ascending ID order, then the
// group tree depth-first with each group's entries before its subgroups,
// and within an entry the strings sorted by key followed by the history
// entries.
package parser

import (
	"encoding/xml"
	"errors"
	"io"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
	"github.com/Zaphoood/kdbx/src/keepass/model"
)

var (
	ErrNotKeePassFile = errors.New("document is not a KeePassFile")
	ErrNoRoot         = errors.New("document has no root group")
	ErrUnknownBinary  = errors.New("reference to unknown binary")
)

// Options control the parts of the document that differ between format
// versions.
type Options struct {
	// BinaryTime writes timestamps as base64 seconds since year 1, the
	// encoding of KDBX 4.
	BinaryTime bool

	// InlineBinaries writes the attachment pool into Meta/Binaries, as in
	// KDBX 3. KDBX 4 stores it in the inner header instead.
	InlineBinaries bool

	// CompressBinaries gzips unprotected inline binaries.
	CompressBinaries bool
}

// Parse reads a document from r, unmasking protected values with stream.
// Attachments of KDBX 4 files are read from the inner header beforehand
// and passed in as binaries; the document takes ownership of them. For
// KDBX 3 pass nil and they are read from Meta/Binaries.
func Parse(r io.Reader, stream crypto.Stream, binaries *model.BinaryMap) (*model.Document, error) {
	doc := model.NewEmptyDocument()
	if binaries != nil {
		doc.Binaries = binaries
	}
	p := &reader{
		d:      xml.NewDecoder(r),
		stream: stream,
		doc:    doc,
	}
	if err := p.readDocument(); err != nil {
		doc.Close()
		return nil, err
	}
	if doc.Root == nil {
		doc.Close()
		return nil, ErrNoRoot
	}
	if err := doc.Reindex(); err != nil {
		doc.Close()
		return nil, err
	}
	log.Debugf("Parsed document '%s' with %d binaries", doc.Meta.DatabaseName, doc.Binaries.Len())
	return doc, nil
}

// Unparse writes doc to w, masking protected values with stream. The
// attachment pool is rebuilt from the entries first, so that the indices
// written match doc.Binaries afterwards.
func Unparse(w io.Writer, doc *model.Document, stream crypto.Stream, opts Options) error {
	if doc.Root == nil {
		return ErrNoRoot
	}
	doc.CollectBinaries()

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	p := &writer{
		e:      xml.NewEncoder(w),
		stream: stream,
		doc:    doc,
		opts:   opts,
	}
	p.e.Indent("", "\t")
	p.writeDocument()
	if p.err != nil {
		return p.err
	}
	return p.e.Flush()
}
