package worker

import (
	"bytes"
	"encoding/json"

	"github.com/capsid-dev/capsid/internal/errors"
)

// decodeParams unmarshals request params into a typed struct. Absent or
// null params decode as the zero value; unknown fields are rejected so a
// misspelled parameter fails loudly instead of being ignored.
func decodeParams[T any](params json.RawMessage) (T, error) {
	var result T
	if len(params) == 0 || string(params) == "null" {
		return result, nil
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&result); err != nil {
		return result, errors.NewInvalidRequest("invalid params: " + err.Error())
	}
	return result, nil
}
