package utils

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrNotObject is returned when a JSON object was expected.
var ErrNotObject = errors.New("value is not a JSON object")

var pathEscaper = strings.NewReplacer(
	`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`, ":", `\:`,
)

// EscapeKey turns an object key into a literal gjson/sjson path segment.
func EscapeKey(k string) string {
	return pathEscaper.Replace(k)
}

// IsJSONObject reports whether raw is a valid JSON object.
func IsJSONObject(raw []byte) bool {
	return gjson.ValidBytes(raw) && gjson.ParseBytes(raw).IsObject()
}

// MergeJSON copies every top-level field of partial into dst.
func MergeJSON(dst, partial []byte) ([]byte, error) {
	if !IsJSONObject(dst) || !IsJSONObject(partial) {
		return dst, ErrNotObject
	}
	out := dst
	var err error
	gjson.ParseBytes(partial).ForEach(func(k, v gjson.Result) bool {
		out, err = sjson.SetRawBytes(out, EscapeKey(k.String()), []byte(v.Raw))
		return err == nil
	})
	if err != nil {
		return dst, err
	}
	return out, nil
}

// PrependJSON puts item at the head of the array at path, keeping at most
// window elements. A missing or non-array field starts a new array.
func PrependJSON(dst []byte, path string, item []byte, window int) ([]byte, error) {
	items := []string{string(item)}
	if arr := gjson.GetBytes(dst, path); arr.IsArray() {
		arr.ForEach(func(_, v gjson.Result) bool {
			if window > 0 && len(items) >= window {
				return false
			}
			items = append(items, v.Raw)
			return true
		})
	}
	return sjson.SetRawBytes(dst, path, []byte("["+strings.Join(items, ",")+"]"))
}
