package mimetree

import "strings"

// AttachmentDescriptor tags a leaf part qualifying as an attachment with the
// structural path needed to fetch its body later. The scan itself never
// fetches bodies.
type AttachmentDescriptor struct {
	Filename string
	MimeType string
	Encoding string
	Path     string
}

// CollectAttachments scans the tree depth-first, left to right, and returns
// a descriptor for every qualifying leaf. A leaf qualifies when it declares
// an "attachment" or "inline" disposition (filename from the first
// disposition parameter), or when it has no disposition but is a non-text
// part carrying at least one parameter, the legacy inline-image case where
// the first parameter value names the file.
func CollectAttachments(part *Part, path string) []AttachmentDescriptor {
	if part == nil {
		return nil
	}
	if part.IsLeaf() {
		filename := attachmentFilename(part)
		if filename == "" {
			return nil
		}
		return []AttachmentDescriptor{{
			Filename: filename,
			MimeType: part.MimeType(),
			Encoding: part.Encoding,
			Path:     pathOrRoot(path),
		}}
	}
	var found []AttachmentDescriptor
	for i, child := range part.Children {
		found = append(found, CollectAttachments(child, childPath(path, i))...)
	}
	return found
}

func attachmentFilename(part *Part) string {
	switch strings.ToLower(part.Disposition) {
	case "attachment", "inline":
		if len(part.DispositionParams) > 0 {
			return part.DispositionParams[0].Value
		}
		return ""
	}
	if part.Disposition == "" && len(part.Params) > 0 &&
		!strings.EqualFold(part.Type, "TEXT") && !strings.EqualFold(part.Type, "MULTIPART") {
		return part.Params[0].Value
	}
	return ""
}
