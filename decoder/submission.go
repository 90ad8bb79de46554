package decoder

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	formContentType = "application/x-www-form-urlencoded"
	jsonContentType = "application/json"
)

// Submission is a wallet POST body reduced to the fields the strategies look
// at. The body itself is kept for raw JWT submissions.
type Submission struct {
	ContentType string
	Response    string
	VPToken     string
	State       string
	Body        []byte
}

// ReadSubmission reads at most maxBytes of the request body. Form and JSON
// bodies are parsed; any other content type is kept as is.
func ReadSubmission(r *http.Request, maxBytes int64) (*Submission, error) {
	if r == nil || r.Body == nil {
		return nil, fmt.Errorf("nil request")
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w: request body exceeds %d bytes", ErrResponseTooLarge, maxBytes)
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	return ParseSubmission(mediaType, body)
}

// ParseSubmission builds a Submission from a body of the given media type.
func ParseSubmission(mediaType string, body []byte) (*Submission, error) {
	sub := &Submission{
		ContentType: strings.ToLower(mediaType),
		Body:        body,
	}

	switch sub.ContentType {
	case formContentType:
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: malformed form body: %v", ErrMissingVPToken, err)
		}
		sub.Response = values.Get("response")
		sub.VPToken = values.Get("vp_token")
		sub.State = values.Get("state")
	case jsonContentType:
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("%w: malformed JSON body", ErrMissingVPToken)
		}
		doc := gjson.ParseBytes(body)
		sub.Response = doc.Get("response").String()
		sub.State = doc.Get("state").String()
		if vp := doc.Get("vp_token"); vp.Exists() {
			if vp.Type == gjson.String {
				sub.VPToken = vp.String()
			} else {
				sub.VPToken = vp.Raw
			}
		}
	}
	return sub, nil
}
