package relay

import (
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// senderPrefixLen is how many characters of the sender ID go into a name.
const senderPrefixLen = 8

// maxNameBytes keeps generated names well inside OneDrive's path limits.
const maxNameBytes = 200

// timestampLayout is the UTC prefix of every stored file name.
const timestampLayout = "20060102-150405"

// oneDriveIllegalChars contains characters that OneDrive forbids in file/folder names.
const oneDriveIllegalChars = `"*:<>?/\|`

// FileName builds the stored name for an attachment:
// YYYYMMDD-HHMMSS_<sender prefix>_<name>. Images without a name get
// image_<message id>.jpg. The result is NFC-normalized and free of characters
// OneDrive rejects.
func FileName(at time.Time, senderID string, kind AttachmentKind, original, messageID string) string {
	name := sanitizeName(original)
	if name == "" {
		if kind == KindImage {
			name = "image_" + sanitizeName(messageID) + ".jpg"
		} else {
			name = "file_" + sanitizeName(messageID)
		}
	}

	prefix := sanitizeName(senderID)
	if utf8.RuneCountInString(prefix) > senderPrefixLen {
		prefix = string([]rune(prefix)[:senderPrefixLen])
	}

	full := at.UTC().Format(timestampLayout) + "_" + prefix + "_" + name

	return truncateName(full, maxNameBytes)
}

// sanitizeName NFC-normalizes s and replaces characters that OneDrive does
// not allow in names. Leading and trailing dots and spaces are trimmed.
func sanitizeName(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder

	for _, r := range s {
		switch {
		case r == utf8.RuneError, unicode.IsControl(r):
			continue
		case strings.ContainsRune(oneDriveIllegalChars, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	// SharePoint reserves _vti_ anywhere in a name.
	out := strings.ReplaceAll(b.String(), "_vti_", "_vti-")

	return strings.Trim(out, ". ")
}

// truncateName cuts name to at most maxBytes bytes on a rune boundary,
// keeping the extension.
func truncateName(name string, maxBytes int) string {
	if len(name) <= maxBytes {
		return name
	}

	ext := path.Ext(name)
	if len(ext) >= maxBytes/2 {
		ext = ""
	}

	stem := name[:len(name)-len(ext)]
	limit := maxBytes - len(ext)

	for limit > 0 && !utf8.RuneStart(stem[limit]) {
		limit--
	}

	return stem[:limit] + ext
}

// DetectMIME picks a content type: the file extension first, then a
// specific type reported by the chat platform, then content sniffing.
func DetectMIME(name, reported string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		return t
	}

	if reported != "" && !strings.HasPrefix(reported, "application/octet-stream") {
		return reported
	}

	return http.DetectContentType(data)
}
