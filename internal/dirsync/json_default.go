//go:build !sonic

package dirsync

import (
	"io"

	"github.com/goccy/go-json"
)

var jsonMarshal = json.Marshal

func jsonEncode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonDecode(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
