// SPDX-License-Identifier: MIT

// Package playlist models M3U playlist documents and their wire form.
package playlist

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Entry is a single playable item in an M3U playlist.
type Entry struct {
	Name    string   // display name after the EXTINF comma
	TvgID   string   // tvg-id attribute
	TvgName string   // tvg-name attribute
	TvgLogo string   // tvg-logo attribute
	Group   string   // group-title attribute
	Type    string   // type attribute (movie|series), empty for plain channels
	Options []string // raw option lines emitted between EXTINF and the URL (e.g. #EXTVLCOPT)
	URL     string
}

// Section is a named run of entries, rendered with a comment separator.
type Section struct {
	Name    string
	Entries []Entry
}

// Document is a complete playlist.
type Document struct {
	TvgURL   string // url-tvg attribute on the #EXTM3U header
	Title    string // optional #PLAYLIST directive
	Sections []Section
}

// Entries returns all entries across sections in render order.
func (d *Document) Entries() []Entry {
	var out []Entry
	for _, s := range d.Sections {
		out = append(out, s.Entries...)
	}
	return out
}

// Write renders the document. The attribute order is fixed so identical
// documents always produce identical bytes.
func Write(w io.Writer, doc *Document) error {
	buf := &bytes.Buffer{}

	if doc.TvgURL != "" {
		fmt.Fprintf(buf, "#EXTM3U url-tvg=\"%s\"\n", sanitizeAttr(doc.TvgURL))
	} else {
		buf.WriteString("#EXTM3U\n")
	}
	if doc.Title != "" {
		fmt.Fprintf(buf, "#PLAYLIST:%s\n", doc.Title)
	}

	for _, sec := range doc.Sections {
		if sec.Name != "" {
			fmt.Fprintf(buf, "\n# %s\n", sec.Name)
		}
		for _, e := range sec.Entries {
			writeEntry(buf, e)
		}
	}

	_, err := io.Copy(w, buf)
	return err
}

func writeEntry(buf *bytes.Buffer, e Entry) {
	buf.WriteString("#EXTINF:-1")
	writeAttr(buf, "type", e.Type)
	writeAttr(buf, "tvg-id", e.TvgID)
	writeAttr(buf, "tvg-name", e.TvgName)
	writeAttr(buf, "tvg-logo", e.TvgLogo)
	writeAttr(buf, "group-title", e.Group)
	buf.WriteString("," + e.Name + "\n")
	for _, opt := range e.Options {
		buf.WriteString(opt + "\n")
	}
	buf.WriteString(e.URL + "\n")
}

func writeAttr(buf *bytes.Buffer, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(buf, " %s=\"%s\"", name, sanitizeAttr(value))
}

// sanitizeAttr strips characters that would break the EXTINF attribute quoting.
func sanitizeAttr(v string) string {
	v = strings.ReplaceAll(v, `"`, "'")
	v = strings.ReplaceAll(v, "\n", " ")
	return v
}
