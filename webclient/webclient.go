// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package webclient

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// maxErrorBodySize bounds how much of an error response is echoed back
// in the error message.
const maxErrorBodySize = 4096

// HttpError carries the status code of a failed request so that callers
// can distinguish venue-side rejections from transport failures.
type HttpError struct {
	StatusCode int
	Body       string
}

func (e HttpError) Error() string {
	return fmt.Sprintf("query returned error code %d (%s)", e.StatusCode, e.Body)
}

// ParseJsonResponse decodes a JSON payload from resp into v.
// Non-2xx responses yield an HttpError containing a bounded copy of the body.
func ParseJsonResponse(resp *http.Response, v any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return HttpError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	m, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || m != "application/json" {
		return fmt.Errorf("invalid content type %s", resp.Header.Get("Content-Type"))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
