// Package mimetree models the structural tree of a mail message and
// implements the recursive walks used for body assembly and attachment
// discovery. Trees are derived per fetch and never persisted.
package mimetree

import (
	"strconv"
	"strings"
)

// Transfer encodings as reported by the server. Anything outside this set is
// passed through undecoded.
const (
	Encoding7Bit            = "7BIT"
	Encoding8Bit            = "8BIT"
	EncodingBinary          = "BINARY"
	EncodingBase64          = "BASE64"
	EncodingQuotedPrintable = "QUOTED-PRINTABLE"
)

// Param is a single body or disposition parameter. Order is preserved as
// reported, since legacy producers rely on the first parameter carrying the
// filename.
type Param struct {
	Name  string
	Value string
}

// Part is one node of a message's MIME tree.
type Part struct {
	Type              string // TEXT, MULTIPART, MESSAGE, APPLICATION, ...
	Subtype           string
	Disposition       string // "", "attachment", "inline", ...
	Params            []Param
	DispositionParams []Param
	Encoding          string
	Children          []*Part
}

// MimeType reports the combined TYPE/subtype pair upper-cased for
// case-insensitive comparison. Parts without a subtype are reported as
// TEXT/PLAIN.
func (p *Part) MimeType() string {
	if p == nil || p.Subtype == "" {
		return "TEXT/PLAIN"
	}
	return strings.ToUpper(p.Type + "/" + p.Subtype)
}

// Param returns the named body parameter, matched case-insensitively.
func (p *Part) Param(name string) string {
	if p == nil {
		return ""
	}
	for _, param := range p.Params {
		if strings.EqualFold(param.Name, name) {
			return param.Value
		}
	}
	return ""
}

// IsLeaf reports whether the part has no children.
func (p *Part) IsLeaf() bool {
	return p == nil || len(p.Children) == 0
}

// childPath formats the structural path of the i-th (0-based) child under
// the given prefix. Paths use dot-separated 1-based indices, e.g. "1.2".
func childPath(prefix string, i int) string {
	idx := strconv.Itoa(i + 1)
	if prefix == "" {
		return idx
	}
	return prefix + "." + idx
}

// pathOrRoot resolves the default structural path for a match at the given
// position; the root part of a message is addressed as "1".
func pathOrRoot(path string) string {
	if path == "" {
		return "1"
	}
	return path
}
