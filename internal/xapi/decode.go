package xapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
)

// DecodeError reports a request body that does not hold valid statements.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode statements: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// ContentTypeError reports a Content-Type header the decoder cannot use.
type ContentTypeError struct {
	ContentType string
	Reason      string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("malformed content type %q: %s", e.ContentType, e.Reason)
}

// Decode turns a request body into statements. JSON bodies may hold a single
// statement or an array; multipart bodies carry the JSON in their first
// non-empty part.
func Decode(contentType string, body []byte) ([]Statement, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, &ContentTypeError{ContentType: contentType, Reason: err.Error()}
	}

	switch {
	case mediaType == "application/json":
		return decodeJSON(body)
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := strings.TrimSpace(params["boundary"])
		if boundary == "" {
			return nil, &ContentTypeError{ContentType: contentType, Reason: "missing boundary"}
		}
		return decodeJSON(firstPart(body, boundary))
	default:
		return nil, &ContentTypeError{ContentType: contentType, Reason: "unsupported media type"}
	}
}

func decodeJSON(body []byte) ([]Statement, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, &DecodeError{Err: fmt.Errorf("empty body")}
	}

	if body[0] == '[' {
		var stmts []Statement
		if err := json.Unmarshal(body, &stmts); err != nil {
			return nil, &DecodeError{Err: err}
		}
		return stmts, nil
	}

	if bytes.Equal(body, []byte("null")) {
		return nil, &DecodeError{Err: fmt.Errorf("body is null")}
	}
	var stmt Statement
	if err := json.Unmarshal(body, &stmt); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return []Statement{stmt}, nil
}

// firstPart returns the body of the first non-empty segment between
// boundary delimiters, without its MIME headers.
func firstPart(body []byte, boundary string) []byte {
	delim := []byte("--" + boundary)
	for _, segment := range bytes.Split(body, delim) {
		segment = bytes.TrimSpace(segment)
		if len(segment) == 0 || bytes.Equal(segment, []byte("--")) {
			continue
		}
		return stripHeaders(segment)
	}
	return nil
}

func stripHeaders(segment []byte) []byte {
	if segment[0] == '{' || segment[0] == '[' {
		return segment
	}
	end := -1
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if i := bytes.Index(segment, sep); i >= 0 && (end < 0 || i+len(sep) < end) {
			end = i + len(sep)
		}
	}
	if end < 0 {
		return nil
	}
	return bytes.TrimSpace(segment[end:])
}
