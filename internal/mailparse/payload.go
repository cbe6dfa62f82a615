// Copyright (c) 2026 TempBox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mailparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/tempbox/ingestion/internal/models"
)

// ErrMalformedPayload means the request body could not be decoded into the
// shape the provider is supposed to send.
var ErrMalformedPayload = errors.New("mailparse: malformed payload")

// Payload is the tagged union of the two wire shapes providers deliver:
// a raw RFC-5322 document, or a pre-split set of form fields. Downstream
// stages never branch on provider identity, only on this shape.
type Payload struct {
	Shape models.PayloadShape

	// Raw is the exact bytes received. Always populated, for audit.
	Raw []byte

	// Fields holds the decoded form fields when Shape is ShapeFormFields.
	Fields url.Values

	// FileParts holds attachment metadata taken from multipart file parts.
	FileParts []models.Attachment
}

// Field returns a form field value, trying the given names in order. Form
// providers are inconsistent about header-style field casing ("Message-Id"
// vs "message-id"), so lookup falls back to a case-insensitive scan.
func (p *Payload) Field(names ...string) string {
	for _, name := range names {
		if v := p.Fields.Get(name); v != "" {
			return v
		}
		for k, vs := range p.Fields {
			if strings.EqualFold(k, name) && len(vs) > 0 && vs[0] != "" {
				return vs[0]
			}
		}
	}
	return ""
}

// DecodePayload decodes the request body once, from the exact bytes received.
// Signature fields are later read out of the decoded form, so verification
// never depends on a re-serialized body.
func DecodePayload(shape models.PayloadShape, body []byte, contentType string) (*Payload, error) {
	p := &Payload{Shape: shape, Raw: body}

	if shape != models.ShapeFormFields {
		return p, nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: bad content type %q", ErrMalformedPayload, contentType)
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("%w: multipart body without boundary", ErrMalformedPayload)
		}
		fields, files, err := readMultipartForm(bytes.NewReader(body), boundary)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		p.Fields = fields
		p.FileParts = files

	case mediaType == "application/x-www-form-urlencoded":
		fields, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		p.Fields = fields

	default:
		return nil, fmt.Errorf("%w: unexpected content type %q for form provider", ErrMalformedPayload, mediaType)
	}

	return p, nil
}

func readMultipartForm(r io.Reader, boundary string) (url.Values, []models.Attachment, error) {
	fields := url.Values{}
	var files []models.Attachment

	mr := multipart.NewReader(r, boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}

		if part.FileName() != "" {
			// Attachment part — record metadata only, discard the content
			size, _ := io.Copy(io.Discard, part)
			ct := part.Header.Get("Content-Type")
			if ct == "" {
				ct = "application/octet-stream"
			}
			files = append(files, models.Attachment{
				Filename:    part.FileName(),
				ContentType: ct,
				SizeBytes:   size,
			})
			continue
		}

		value, err := io.ReadAll(part)
		if err != nil {
			return nil, nil, err
		}
		fields.Add(part.FormName(), string(value))
	}

	return fields, files, nil
}
