package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"ai-receptionist/pkg/logger"

	"github.com/gin-gonic/gin"
)

const signatureHeader = "X-Twilio-Signature"

// ComputeSignature is Twilio's request signature: base64(HMAC-SHA1(authToken,
// url + each POST key and value in key order)).
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func ValidSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := ComputeSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// RequireTwilioSignature rejects webhooks whose signature does not match.
// baseURL is the public scheme and host Twilio was configured with, since the
// request may have been rewritten by a proxy. rejected may be nil.
func RequireTwilioSignature(authToken, baseURL string, rejected func(ctx context.Context, path string)) gin.HandlerFunc {
	baseURL = strings.TrimRight(baseURL, "/")
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		fullURL := baseURL + c.Request.URL.RequestURI()
		if ValidSignature(authToken, fullURL, c.Request.PostForm, c.GetHeader(signatureHeader)) {
			c.Next()
			return
		}
		logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
		if rejected != nil {
			rejected(c.Request.Context(), c.Request.URL.Path)
		}
		c.AbortWithStatus(http.StatusForbidden)
	}
}
