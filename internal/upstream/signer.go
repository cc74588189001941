package upstream

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
)

// Sign computes the x-ncp-apigw-signature-v2 value for one request.
// The signed string covers only the method and URI path, never query
// parameters or body:
//
//	METHOD + " " + uri + "\n" + timestamp + "\n" + accessKey
//
// where timestamp is the request epoch in milliseconds, rendered in
// decimal. The signature is the base64 HMAC-SHA256 of that string
// under the secret key.
func Sign(method, uri string, timestampMillis int64, accessKey, secretKey string) string {
	ts := strconv.FormatInt(timestampMillis, 10)
	stringToSign := method + " " + uri + "\n" + ts + "\n" + accessKey

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
