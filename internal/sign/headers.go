package sign

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"math/rand"
	"strconv"
	"time"
)

// Header names checked by the platform. The mixed casing of the common
// header is deliberate.
const (
	HeaderXS       = "X-S"
	HeaderXT       = "X-T"
	HeaderXSCommon = "x-S-Common"
	HeaderTraceID  = "X-B3-Traceid"
)

// Signer produces the raw signature token for a canonical sign string.
// The production implementation evaluates the platform's own signer
// function inside a live page; tests substitute a deterministic one.
type Signer interface {
	Sign(ctx context.Context, signStr, payloadMD5 string) (string, error)
}

// Material carries the per-session identifiers folded into the headers.
type Material struct {
	A1 string // a1 device cookie
	B1 string // local-storage browser fingerprint
}

// xsEnvelope is the payload behind the X-S header.
type xsEnvelope struct {
	X0 string `json:"x0"` // signer version
	X1 string `json:"x1"` // client platform
	X2 string `json:"x2"` // reported OS
	X3 string `json:"x3"` // signature token
	X4 string `json:"x4"` // payload shape, "object" or "string"
}

// commonEnvelope is the payload behind the x-S-Common header. X9 is the
// signed checksum over the timestamp, X-S value and fingerprint.
type commonEnvelope struct {
	S0  int    `json:"s0"`
	S1  string `json:"s1"`
	X0  string `json:"x0"`
	X1  string `json:"x1"`
	X2  string `json:"x2"`
	X3  string `json:"x3"`
	X4  string `json:"x4"`
	X5  string `json:"x5"`
	X6  string `json:"x6"`
	X7  string `json:"x7"`
	X8  string `json:"x8"`
	X9  int64  `json:"x9"`
	X10 int    `json:"x10"`
	X11 string `json:"x11"`
}

func buildXS(token, dataType string) (string, error) {
	js, err := CompactJSON(xsEnvelope{
		X0: "4.2.1",
		X1: "xhs-pc-web",
		X2: "Mac OS",
		X3: token,
		X4: dataType,
	})
	if err != nil {
		return "", err
	}
	return "XYS_" + Base64Alt(js), nil
}

func buildCommon(m Material, xs, xt string) (string, error) {
	js, err := CompactJSON(commonEnvelope{
		S0:  3,
		S1:  "",
		X0:  "1",
		X1:  "4.2.2",
		X2:  "Mac OS",
		X3:  "xhs-pc-web",
		X4:  "4.74.0",
		X5:  m.A1,
		X6:  xt,
		X7:  xs,
		X8:  m.B1,
		X9:  SignedChecksum(xt + xs + m.B1),
		X10: 154,
		X11: "normal",
	})
	if err != nil {
		return "", err
	}
	return Base64Alt(js), nil
}

// BuildHeaders signs uri plus its params or body through signer and
// assembles the four request headers the platform validates. The
// timestamp is sampled once so X-T and the x9 checksum agree.
func BuildHeaders(ctx context.Context, signer Signer, m Material, uri string, params Params, body any) (map[string]string, error) {
	signStr, err := CanonicalSignString(uri, params, body)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum([]byte(signStr))
	token, err := signer.Sign(ctx, signStr, hex.EncodeToString(sum[:]))
	if err != nil {
		return nil, err
	}
	// Query parameters are signed as a dict just like JSON bodies, so
	// every request the worker issues carries the "object" shape tag.
	xs, err := buildXS(token, "object")
	if err != nil {
		return nil, err
	}
	xt := strconv.FormatInt(time.Now().UnixMilli(), 10)
	common, err := buildCommon(m, xs, xt)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderXS:       xs,
		HeaderXT:       xt,
		HeaderXSCommon: common,
		HeaderTraceID:  TraceID(),
	}, nil
}

// TraceID returns a fresh 16-character hex trace id for X-B3-Traceid.
func TraceID() string {
	const hexdigits = "abcdef0123456789"
	b := make([]byte, 16)
	for i := range b {
		b[i] = hexdigits[rand.Intn(len(hexdigits))]
	}
	return string(b)
}
