// SPDX-License-Identifier: MIT

package playlist

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

var (
	attrRe = regexp.MustCompile(`([a-zA-Z0-9-]+)="([^"]*)"`)
	nameRe = regexp.MustCompile(`,(.*)$`)
)

// Parse reads an M3U stream into entries. It tolerates the #EXTM3U header,
// keeps option lines (#EXTVLCOPT, #EXTHTTP, ...) attached to their entry and
// skips free-standing comments. Entries without a URL line are dropped.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var entries []Entry
	var cur *Entry

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#EXTM3U") || strings.HasPrefix(line, "#PLAYLIST"):
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			e := parseExtinf(line)
			cur = &e
		case strings.HasPrefix(line, "#"):
			// Option lines belong to the open entry; stray comments are section
			// markers or noise and carry no playable data.
			if cur != nil && isOptionLine(line) {
				cur.Options = append(cur.Options, line)
			}
		default:
			if cur != nil {
				cur.URL = line
				entries = append(entries, *cur)
				cur = nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseExtinf(line string) Entry {
	e := Entry{Name: "unknown"}
	if m := nameRe.FindStringSubmatch(line); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			e.Name = name
		}
	}
	for _, m := range attrRe.FindAllStringSubmatch(line, -1) {
		switch m[1] {
		case "tvg-id":
			e.TvgID = m[2]
		case "tvg-name":
			e.TvgName = m[2]
		case "tvg-logo":
			e.TvgLogo = m[2]
		case "group-title":
			e.Group = m[2]
		case "type":
			e.Type = m[2]
		}
	}
	return e
}

func isOptionLine(line string) bool {
	return strings.HasPrefix(line, "#EXTVLCOPT") ||
		strings.HasPrefix(line, "#EXTHTTP") ||
		strings.HasPrefix(line, "#KODIPROP")
}
