package types

import (
	"encoding/json"

	"github.com/juju/errors"
	"github.com/spf13/cast"
)

// Data carries run parameters into actions and action outputs to
// dependents. Values are loosely typed; the getters convert via cast.
type Data map[string]any

func (d *Data) Get(key string) (any, bool) {
	v, exists := (*d)[key]
	return v, exists
}

func (d *Data) GetString(key string) (string, bool) {
	v, exists := d.Get(key)
	return cast.ToString(v), exists
}

func (d *Data) GetInt(key string) (int, bool) {
	v, exists := d.Get(key)
	return cast.ToInt(v), exists
}

func (d *Data) GetInt64(key string) (int64, bool) {
	v, exists := d.Get(key)
	return cast.ToInt64(v), exists
}

func (d *Data) GetBool(key string) (bool, bool) {
	v, exists := d.Get(key)
	return cast.ToBool(v), exists
}

func (d *Data) GetFloat64(key string) (float64, bool) {
	v, exists := d.Get(key)
	return cast.ToFloat64(v), exists
}

func (d *Data) GetStruct(key string, s any) error {
	v, exists := d.Get(key)
	if !exists {
		return errors.NotFound
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.New("marshal failed"))
	}
	return json.Unmarshal(b, s)
}

func (d *Data) Set(key string, value any) {
	(*d)[key] = value
}

// Merge copies every entry of other into d, overwriting existing keys.
func (d *Data) Merge(other Data) {
	for k, v := range other {
		(*d)[k] = v
	}
}
