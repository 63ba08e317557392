package model

import (
	"strings"
	"time"
)

const (
	// StreamDir is the metadata subtree inside a catalog root
	StreamDir = "streams/v1"

	// IndexFile is the master index inside StreamDir
	IndexFile = "index.json"

	// DataDir holds reference-counted blobs in legacy mirrors; the orphan
	// collector always skips it
	DataDir = ".data"

	// TimestampLayout is the simplestreams timestamp format, an RFC2822-ish
	// rendering used for catalog "updated" fields and the orphan ledger
	TimestampLayout = "Mon, 02 Jan 2006 15:04:05 -0700"
)

// StreamPath returns the catalog file path for a content id, relative to a
// catalog root.
func StreamPath(contentID string) string {
	return StreamDir + "/" + contentID + ".json"
}

// IndexPath returns the index file path relative to a catalog root.
func IndexPath() string {
	return StreamDir + "/" + IndexFile
}

// SignedPath maps a stream file path to its clearsigned variant.
func SignedPath(path string) string {
	return strings.TrimSuffix(path, ".json") + ".sjson"
}

// Timestamp renders the current UTC time in the simplestreams format.
func Timestamp() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// ParseTimestamp reads a simplestreams timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// ReleaseLabel is the fully promoted label. By the simplestreams mirror
// convention release streams carry no label marker at all: their content and
// product ids are the unlabeled form of their daily counterparts.
const ReleaseLabel = "release"

// Relabel converts an identifier from one lifecycle label to another. Both
// marker conventions are handled: content ids carry the label as an exact
// colon-delimited token (com.ubuntu.maas:daily:v2:download), product ids
// embed it in the namespace with a dot
// (com.ubuntu.maas.daily:v2:boot:14.04:amd64:ga-14.04). Converting to
// ReleaseLabel removes the marker, converting from ReleaseLabel inserts
// one. A label that is merely a substring of a namespace component is left
// alone.
func Relabel(id, from, to string) string {
	if from == "" || from == to {
		return id
	}
	if dotted := "." + from + ":"; strings.Contains(id, dotted) {
		if to == ReleaseLabel || to == "" {
			return strings.Replace(id, dotted, ":", 1)
		}
		return strings.Replace(id, dotted, "."+to+":", 1)
	}
	parts := strings.Split(id, ":")
	out := make([]string, 0, len(parts))
	changed := false
	for _, p := range parts {
		if p != from {
			out = append(out, p)
			continue
		}
		changed = true
		if to == ReleaseLabel || to == "" {
			continue
		}
		out = append(out, to)
	}
	if changed {
		return strings.Join(out, ":")
	}
	if from == ReleaseLabel && to != "" {
		return insertLabel(id, to)
	}
	return id
}

// insertLabel adds a label marker to an unlabeled identifier. Product ids
// have the longer pedigree and take the dotted namespace form; content ids
// take a colon token after the namespace.
func insertLabel(id, label string) string {
	i := strings.Index(id, ":")
	if i < 0 {
		return id
	}
	if strings.Count(id, ":") >= 4 {
		return id[:i] + "." + label + id[i:]
	}
	return id[:i] + ":" + label + id[i:]
}

// ContentIDLabel extracts the first known label token embedded in a content
// id, or "" when none matches.
func ContentIDLabel(id string, known []string) string {
	for _, p := range strings.Split(id, ":") {
		for _, l := range known {
			if p == l {
				return l
			}
		}
	}
	return ""
}
