// request.go: The inspectable view of one inbound request
package middleware

import (
	"net/http"
	"strings"

	"github.com/Aidin1998/talentboard/pkg/validation"
)

// BodyKind tells how the body was decoded into a tree.
type BodyKind int

const (
	// BodyNone means the request carried no body.
	BodyNone BodyKind = iota
	// BodyJSON is an application/json body.
	BodyJSON
	// BodyForm is an application/x-www-form-urlencoded body.
	BodyForm
	// BodyMultipart is a multipart/form-data body; Body holds its text fields.
	BodyMultipart
	// BodyText is any other textual body, kept as one string scalar.
	BodyText
	// BodyOpaque is a binary body that inspectors do not look at.
	BodyOpaque
)

var bodyKindNames = map[BodyKind]string{
	BodyNone:      "none",
	BodyJSON:      "json",
	BodyForm:      "form",
	BodyMultipart: "multipart",
	BodyText:      "text",
	BodyOpaque:    "opaque",
}

func (k BodyKind) String() string {
	if name, ok := bodyKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Request is everything the stages may look at. It is built once per inbound
// request by the gin adapter and handed to each stage in order; the sanitizer
// replaces Body and Query through SetBody and SetQuery. Body, BodyKind,
// BodyTruncated and Filenames are only filled once LoadBody has run.
type Request struct {
	Method string
	// Path is the decoded URL path, RawPath the path as it was sent.
	Path    string
	RawPath string
	// Params are the route parameters as a mapping of strings.
	Params validation.Value
	// Identity keys the rate governors, normally the client IP.
	Identity string
	// ContentLength is the declared body length; unknown lengths are 0.
	ContentLength int64
	// BodyTruncated is set when the body was longer than the read limit.
	BodyTruncated bool
	Header        http.Header
	Cookie        string
	Body          validation.Value
	BodyKind      BodyKind
	Query         validation.Value
	// Filenames are the raw filename parameters of uploaded parts.
	Filenames []string

	// ResponseHeader collects headers the stages want on the response,
	// whether the request continues or not.
	ResponseHeader http.Header

	// Finding is the pattern hit behind the last rejection, for logging only.
	Finding *validation.Hit

	raw        []byte
	boundary   string
	bodyDirty  bool
	queryDirty bool
	marks      map[string]struct{}

	load    func(*Request) error
	loadErr error
}

// NewRequest returns an empty request ready for the stages.
func NewRequest(method, path string) *Request {
	return &Request{
		Method:         method,
		Path:           path,
		RawPath:        path,
		Params:         validation.Mapping(),
		Header:         make(http.Header),
		Query:          validation.Mapping(),
		ResponseHeader: make(http.Header),
	}
}

// LoadBody reads and decodes the body on its first call and returns the
// same result on later calls. Requests built without a loader are already
// loaded.
func (r *Request) LoadBody() error {
	if r.load != nil {
		load := r.load
		r.load = nil
		r.loadErr = load(r)
	}
	return r.loadErr
}

// BodyLoaded reports whether the body has been read.
func (r *Request) BodyLoaded() bool { return r.load == nil }

// SetBody replaces the body tree and marks it for write-back.
func (r *Request) SetBody(v validation.Value) {
	r.Body = v
	r.bodyDirty = true
}

// SetQuery replaces the query tree and marks it for write-back.
func (r *Request) SetQuery(v validation.Value) {
	r.Query = v
	r.queryDirty = true
}

// BodyChanged reports whether a stage rewrote the body.
func (r *Request) BodyChanged() bool { return r.bodyDirty }

// QueryChanged reports whether a stage rewrote the query.
func (r *Request) QueryChanged() bool { return r.queryDirty }

// Inspectable reports whether the body holds a tree the stages should scan.
func (r *Request) Inspectable() bool {
	return r.BodyKind != BodyNone && r.BodyKind != BodyOpaque
}

// HasPathPrefix reports whether the path is under any of prefixes.
func (r *Request) HasPathPrefix(prefixes []string) bool {
	for _, p := range prefixes {
		if r.Path == p || strings.HasPrefix(r.Path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// mark records that stage touched the request, for Finish.
func (r *Request) mark(stage string) {
	if r.marks == nil {
		r.marks = make(map[string]struct{})
	}
	r.marks[stage] = struct{}{}
}

func (r *Request) marked(stage string) bool {
	_, ok := r.marks[stage]
	return ok
}
