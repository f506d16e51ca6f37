package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/milton-labs/paygate/service/gateway"
)

// maxClockSkew bounds how far a signed request's timestamp may drift from
// server time, in either direction.
const maxClockSkew = 5 * time.Minute

// SignRequest computes the hex HMAC-SHA256 signature of a request body for
// the given unix-second timestamp. Clients send the result in X-Signature
// alongside X-Timestamp.
func SignRequest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s.", timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyRequestSignature checks a request's HMAC signature and timestamp
// freshness. The signature covers "timestamp.body" so a captured request
// cannot be replayed outside the skew window with a newer timestamp.
func VerifyRequestSignature(secret []byte, timestamp, signature string, body []byte) error {
	if timestamp == "" {
		return gateway.NewError(gateway.KindInvalidSignature, "missing X-Timestamp header")
	}
	if signature == "" {
		return gateway.NewError(gateway.KindInvalidSignature, "missing X-Signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return gateway.NewError(gateway.KindInvalidSignature, "invalid X-Timestamp header")
	}
	drift := time.Since(time.Unix(ts, 0))
	if drift > maxClockSkew || drift < -maxClockSkew {
		return gateway.NewError(gateway.KindInvalidSignature, "request timestamp outside allowed window")
	}

	expected := SignRequest(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return gateway.NewError(gateway.KindInvalidSignature, "request signature mismatch")
	}
	return nil
}
