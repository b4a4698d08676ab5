package gitlab

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoToken is returned before any network call when no access token is
// configured.
var ErrNoToken = errors.New("gitlab: no access token configured (run `glwatch login`)")

// APIError is a non-2xx REST or GraphQL HTTP response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gitlab: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("gitlab: HTTP %d: %s", e.StatusCode, e.Message)
}

// GraphQLError is a GraphQL response carrying a top-level errors array.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "gitlab: graphql: " + strings.Join(e.Messages, "; ")
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// IsBadRequest reports whether err is a 400 response. GitLab answers branch
// creation for an existing branch this way.
func IsBadRequest(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 400
}

// ExtractErrorMessage pulls a human-readable message out of a GitLab error
// body. GitLab sends "message" either as a string or as an object mapping
// field names to lists of problems; anything unparseable is returned as is.
func ExtractErrorMessage(body []byte) string {
	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}

	if len(payload.Message) > 0 {
		var s string
		if err := json.Unmarshal(payload.Message, &s); err == nil {
			return s
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(payload.Message, &fields); err == nil {
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			var parts []string
			for _, k := range keys {
				var list []string
				if err := json.Unmarshal(fields[k], &list); err == nil {
					parts = append(parts, list...)
					continue
				}
				var single string
				if err := json.Unmarshal(fields[k], &single); err == nil {
					parts = append(parts, single)
				}
			}
			return strings.Join(parts, ", ")
		}
	}
	if payload.Error != "" {
		return payload.Error
	}
	return "Unknown error"
}
