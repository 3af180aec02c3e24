//go:build sonic

package dirsync

import (
	"io"

	"github.com/bytedance/sonic"
)

var jsonMarshal = sonic.Marshal

func jsonEncode(w io.Writer, v any) error {
	enc := sonic.ConfigDefault.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonDecode(r io.Reader, v any) error {
	return sonic.ConfigDefault.NewDecoder(r).Decode(v)
}
