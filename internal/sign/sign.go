// Package sign reproduces the request-signing pipeline of the xhs web
// client: the truncated CRC-32 checksum, the shuffled-alphabet base64
// and the canonical string handed to the in-page signer. The quirks
// here (57-byte truncation, signed checksum arithmetic) are part of the
// wire contract and must not be "fixed".
package sign

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strings"
)

// checksumXOR is the constant folded into the final checksum value. It
// happens to equal the reflected CRC-32 polynomial.
const checksumXOR = 0xEDB88320

var crcTable = crc32.MakeTable(crc32.IEEE)

// SignedChecksum computes the web client's rolling checksum over the
// first 57 bytes of data, keeping the arbitrary-precision signed result
// the client serializes into its common header. The value can fall
// outside int32 range; that is what the platform receives.
func SignedChecksum(data string) int64 {
	b := []byte(data)
	if len(b) > 57 {
		b = b[:57]
	}
	acc := int64(-1)
	for _, c := range b {
		acc = int64(crcTable[byte(acc)^c]) ^ int64(uint32(acc)>>8)
	}
	return ^acc ^ checksumXOR
}

// Checksum is SignedChecksum truncated to the low 32 bits.
func Checksum(data string) uint32 {
	return uint32(SignedChecksum(data))
}

// altAlphabet is the shuffled base64 alphabet the client encodes its
// header payloads with.
const altAlphabet = "ZmserbBoHQtNP+wOcza/LpngG8yJq42KWYj0DSfdikx3VT16IlUAFM97hECvuRX5"

// Base64Alt encodes the UTF-8 bytes of data using the client's shuffled
// alphabet. Padding follows standard base64 rules.
func Base64Alt(data string) string {
	b := []byte(data)
	var sb strings.Builder
	sb.Grow((len(b) + 2) / 3 * 4)
	i := 0
	for ; i+3 <= len(b); i += 3 {
		x := int(b[i])<<16 | int(b[i+1])<<8 | int(b[i+2])
		sb.WriteByte(altAlphabet[x>>18&63])
		sb.WriteByte(altAlphabet[x>>12&63])
		sb.WriteByte(altAlphabet[x>>6&63])
		sb.WriteByte(altAlphabet[x&63])
	}
	switch len(b) - i {
	case 1:
		x := int(b[i])
		sb.WriteByte(altAlphabet[x>>2])
		sb.WriteByte(altAlphabet[x<<4&63])
		sb.WriteString("==")
	case 2:
		x := int(b[i])<<8 | int(b[i+1])
		sb.WriteByte(altAlphabet[x>>10])
		sb.WriteByte(altAlphabet[x>>4&63])
		sb.WriteByte(altAlphabet[x<<2&63])
		sb.WriteByte('=')
	}
	return sb.String()
}

// Param is a single query parameter. Parameter order is part of the
// signed string, so parameters travel as a slice rather than a map.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered parameter list.
type Params []Param

// Encode renders the parameters as a query string with every value
// fully percent-encoded, matching the client's encodeURIComponent-style
// escaping. Keys are emitted as-is.
func (p Params) Encode() string {
	var sb strings.Builder
	for i, kv := range p {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(kv.Key)
		sb.WriteByte('=')
		sb.WriteString(percentEncode(kv.Value))
	}
	return sb.String()
}

// percentEncode escapes everything outside the unreserved set, emitting
// uppercase hex for each UTF-8 byte. Unlike net/url it never uses '+'
// for spaces and escapes the sub-delimiters too.
func percentEncode(s string) string {
	const upperhex = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(s))
	for _, c := range []byte(s) {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			sb.WriteByte(c)
		default:
			sb.WriteByte('%')
			sb.WriteByte(upperhex[c>>4])
			sb.WriteByte(upperhex[c&15])
		}
	}
	return sb.String()
}

// ParamValue renders a raw value the way the web client coerces query
// parameters: nil becomes the empty string and slices join with commas.
func ParamValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = ParamValue(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

// CompactJSON marshals v the way the client's JSON.stringify does: keys
// in declaration order, no spaces, no HTML escaping and no trailing
// newline.
func CompactJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// CanonicalSignString builds the exact string handed to the in-page
// signer. Body-carrying calls append the compact JSON body to the URI;
// query-style calls append the encoded parameters. Any byte of drift
// from what the page's own fetch wrapper would produce yields a
// signature the platform rejects.
func CanonicalSignString(uri string, params Params, body any) (string, error) {
	if body != nil {
		js, err := CompactJSON(body)
		if err != nil {
			return "", fmt.Errorf("encode sign body: %w", err)
		}
		return uri + js, nil
	}
	if len(params) > 0 {
		return uri + "?" + params.Encode(), nil
	}
	return uri, nil
}
