package utils

import "encoding/json"

// Serialize/Unserialize fix the wire format used for everything that goes
// through store.Store (records, summaries).
func Serialize(o any) ([]byte, error) {
	return json.Marshal(o)
}

func Unserialize(b []byte, o any) error {
	return json.Unmarshal(b, o)
}
