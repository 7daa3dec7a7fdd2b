// security.go: Gin adapter running the inspection pipeline on every request
package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aidin1998/talentboard/internal/infrastructure/audit"
	"github.com/Aidin1998/talentboard/pkg/errors"
	"github.com/Aidin1998/talentboard/pkg/validation"
)

// SecurityOptions configures the gin adapter.
type SecurityOptions struct {
	Logger *zap.Logger
	// Auditor receives one event per rejection. Optional.
	Auditor audit.Publisher
	// MaxBodyBytes bounds how much of the body is buffered for inspection.
	MaxBodyBytes int64
}

// Security returns a gin middleware that inspects the request with p. A
// rejected request is answered with the rejection's status and JSON body and
// aborted; otherwise the possibly sanitized body and query are written back
// into the request before the handler runs.
func Security(p *Pipeline, opts SecurityOptions) gin.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultLimits().MaxContentLength
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		req := NewRequestFromHTTP(c.Request, maxBody)
		req.Identity = c.ClientIP()
		req.Params = routeParams(c.Params)

		res := p.Run(ctx, req)
		for name, values := range req.ResponseHeader {
			for _, v := range values {
				c.Writer.Header().Add(name, v)
			}
		}

		if !res.Continue() {
			reject(c, logger, opts.Auditor, req, res)
			return
		}
		if err := req.LoadBody(); err != nil {
			logger.Warn("unreadable request body", zap.Error(err), zap.String("path", req.Path))
			rejection := errors.Validation(bodyUnreadable)
			c.AbortWithStatusJSON(rejection.Status, rejection)
			return
		}
		if req.BodyTruncated {
			// Never hand a partially buffered body to the handler.
			rejection := errors.PayloadTooLarge(maxBody)
			c.AbortWithStatusJSON(rejection.Status, rejection)
			return
		}

		if err := writeBack(c.Request, req); err != nil {
			logger.Error("failed to write back sanitized request", zap.Error(err))
			rejection := errors.Internal()
			c.AbortWithStatusJSON(rejection.Status, rejection)
			return
		}

		c.Next()
		p.Finish(ctx, req, c.Writer.Status())
	}
}

func reject(c *gin.Context, logger *zap.Logger, auditor audit.Publisher, req *Request, res Result) {
	fields := []zap.Field{
		zap.String("stage", res.Stage),
		zap.String("code", string(res.Rejection.Code)),
		zap.Int("status", res.Rejection.Status),
		zap.String("client_ip", req.Identity),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
	}
	if req.Finding != nil {
		fields = append(fields,
			zap.String("pattern", req.Finding.Pattern),
			zap.String("location", req.Finding.Path))
	}
	logger.Warn("request rejected", fields...)

	if auditor != nil {
		event := audit.NewEvent()
		event.RequestID = c.GetString(RequestIDKey)
		event.Stage = res.Stage
		event.Code = string(res.Rejection.Code)
		event.Status = res.Rejection.Status
		event.Identity = req.Identity
		event.Method = req.Method
		event.Path = req.Path
		if req.Finding != nil {
			event.Pattern = req.Finding.Pattern
			event.Location = req.Finding.Path
		}
		if err := auditor.Publish(context.WithoutCancel(c.Request.Context()), event); err != nil {
			logger.Debug("audit publish failed", zap.Error(err))
		}
	}

	c.AbortWithStatusJSON(res.Rejection.Status, res.Rejection)
}

func routeParams(params gin.Params) validation.Value {
	fields := make([]validation.Field, 0, len(params))
	for _, p := range params {
		fields = append(fields, validation.Field{Key: p.Key, Value: validation.String(p.Value)})
	}
	return validation.Mapping(fields...)
}

const bodyUnreadable = "Request body could not be read"

// NewRequestFromHTTP returns the inspectable request for r. The body is not
// touched until LoadBody, which buffers at most maxBody bytes of it, decodes
// it by content type and replaces the body of r with the buffered copy.
func NewRequestFromHTTP(r *http.Request, maxBody int64) *Request {
	req := NewRequest(r.Method, r.URL.Path)
	req.RawPath = r.URL.EscapedPath()
	req.Header = r.Header
	req.Cookie = strings.Join(r.Header.Values("Cookie"), "; ")
	req.Query = validation.ParseQuery(r.URL.Query())
	if r.ContentLength > 0 {
		req.ContentLength = r.ContentLength
	}
	req.load = func(req *Request) error {
		return readBody(r, req, maxBody)
	}
	return req
}

func readBody(r *http.Request, req *Request, maxBody int64) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if r.ContentLength > maxBody {
		// Declared too large; leave it unread for the rejection.
		req.BodyTruncated = true
		req.BodyKind = BodyOpaque
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	_ = r.Body.Close()
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxBody {
		req.BodyTruncated = true
		data = data[:maxBody]
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	if len(data) == 0 {
		return nil
	}
	req.raw = data

	if req.BodyTruncated {
		req.BodyKind = BodyOpaque
		return nil
	}
	decodeBody(r.Header.Get("Content-Type"), data, req)
	requestBodyBytes.WithLabelValues(req.BodyKind.String()).Observe(float64(len(data)))
	return nil
}

func decodeBody(contentType string, data []byte, req *Request) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		v, err := validation.ParseJSON(data)
		if err != nil {
			// Not JSON after all; inspect it as text.
			req.Body, req.BodyKind = validation.String(string(data)), BodyText
			return
		}
		req.Body, req.BodyKind = v, BodyJSON

	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(data))
		if err != nil {
			req.Body, req.BodyKind = validation.String(string(data)), BodyText
			return
		}
		req.Body, req.BodyKind = validation.ParseQuery(values), BodyForm

	case mediaType == "multipart/form-data":
		body, filenames, err := parseMultipart(data, params["boundary"])
		if err != nil {
			req.Body, req.BodyKind = validation.String(string(data)), BodyText
			return
		}
		req.Body, req.BodyKind, req.Filenames = body, BodyMultipart, filenames
		req.boundary = params["boundary"]

	case mediaType == "" || strings.HasPrefix(mediaType, "text/") ||
		mediaType == "application/xml" || strings.HasSuffix(mediaType, "+xml"):
		req.Body, req.BodyKind = validation.String(string(data)), BodyText

	default:
		req.BodyKind = BodyOpaque
	}
}

// parseMultipart returns the text fields in order and the raw filename of
// every file part. Filenames are taken from the Content-Disposition header
// as sent, before any path cleaning.
func parseMultipart(data []byte, boundary string) (validation.Value, []string, error) {
	if boundary == "" {
		return validation.Value{}, nil, fmt.Errorf("multipart body without boundary")
	}
	mr := multipart.NewReader(bytes.NewReader(data), boundary)
	var (
		fields    []validation.Field
		filenames []string
	)
	for {
		part, err := mr.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return validation.Value{}, nil, fmt.Errorf("read part: %w", err)
		}
		filename, isFile, name := dispositionOf(part.Header)
		if isFile {
			filenames = append(filenames, filename)
			_, _ = io.Copy(io.Discard, part)
			continue
		}
		value, err := io.ReadAll(part)
		if err != nil {
			return validation.Value{}, nil, fmt.Errorf("read part: %w", err)
		}
		fields = append(fields, validation.Field{Key: name, Value: validation.String(string(value))})
	}
	return validation.Mapping(fields...), filenames, nil
}

func dispositionOf(h textproto.MIMEHeader) (filename string, isFile bool, name string) {
	_, params, err := mime.ParseMediaType(h.Get("Content-Disposition"))
	if err != nil {
		return "", false, ""
	}
	filename, isFile = params["filename"]
	return filename, isFile, params["name"]
}

// rewriteMultipart re-encodes data with the text fields replaced, in order,
// by fields. File parts are copied unchanged.
func rewriteMultipart(data []byte, boundary string, fields []validation.Field) ([]byte, error) {
	mr := multipart.NewReader(bytes.NewReader(data), boundary)
	var out bytes.Buffer
	mw := multipart.NewWriter(&out)
	if err := mw.SetBoundary(boundary); err != nil {
		return nil, err
	}

	i := 0
	for {
		part, err := mr.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		header := make(textproto.MIMEHeader, len(part.Header))
		for k, v := range part.Header {
			header[k] = append([]string(nil), v...)
		}

		if _, isFile, _ := dispositionOf(part.Header); isFile {
			w, err := mw.CreatePart(header)
			if err != nil {
				return nil, err
			}
			if _, err := io.Copy(w, part); err != nil {
				return nil, err
			}
			continue
		}

		if i >= len(fields) {
			return nil, fmt.Errorf("multipart field count changed")
		}
		f := fields[i]
		i++
		header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": f.Key}))
		w, err := mw.CreatePart(header)
		if err != nil {
			return nil, err
		}
		value, _ := f.Value.Str()
		if _, err := io.WriteString(w, value); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// writeBack copies the sanitized query and body into r.
func writeBack(r *http.Request, req *Request) error {
	if req.QueryChanged() {
		r.URL.RawQuery = req.Query.QueryValues().Encode()
	}
	if !req.BodyChanged() {
		return nil
	}

	var (
		data []byte
		err  error
	)
	switch req.BodyKind {
	case BodyJSON:
		data, err = req.Body.MarshalJSON()
	case BodyForm:
		data = []byte(req.Body.QueryValues().Encode())
	case BodyMultipart:
		data, err = rewriteMultipart(req.raw, req.boundary, req.Body.Fields())
	case BodyText:
		s, _ := req.Body.Str()
		data = []byte(s)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("encode %s body: %w", req.BodyKind, err)
	}

	r.Body = io.NopCloser(bytes.NewReader(data))
	r.ContentLength = int64(len(data))
	r.Header.Set("Content-Length", strconv.Itoa(len(data)))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}
