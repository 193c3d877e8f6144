// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package factload

import (
	"encoding/json"
	"strings"
)

func jsonDecoder(s string) *json.Decoder {
	return json.NewDecoder(strings.NewReader(s))
}

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
