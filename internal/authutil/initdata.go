package authutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Errors distinguish a broken signature from a stale one; both map to 401.
var (
	ErrBadSignature = errors.New("init data signature mismatch")
	ErrStale        = errors.New("init data is too old")
)

// WebAppUser is the identity embedded in Mini App init data.
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// InitData is the verified payload of the X-Telegram-Init-Data header.
type InitData struct {
	User     *WebAppUser
	AuthDate time.Time
}

// ValidateInitData verifies the Mini App signature: HMAC-SHA256 over the
// sorted key=value lines, keyed with HMAC-SHA256("WebAppData", botToken),
// compared in constant time, with a freshness bound on auth_date.
// https://core.telegram.org/bots/webapps#validating-data-received-via-the-mini-app
func ValidateInitData(initData, botToken string, maxAge time.Duration, now time.Time) (*InitData, error) {
	if initData == "" || botToken == "" {
		return nil, ErrBadSignature
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("parsing init data: %w", err)
	}

	receivedHash := values.Get("hash")
	if receivedHash == "" {
		return nil, ErrBadSignature
	}
	values.Del("hash")

	if !hmac.Equal([]byte(sign(values, botToken)), []byte(receivedHash)) {
		return nil, ErrBadSignature
	}

	out := &InitData{}

	raw := values.Get("auth_date")
	if raw == "" {
		// Without auth_date the payload cannot prove freshness.
		if maxAge > 0 {
			return nil, ErrStale
		}
	} else {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing auth_date: %w", err)
		}
		out.AuthDate = time.Unix(ts, 0)
		if maxAge > 0 {
			age := now.Sub(out.AuthDate)
			if age < 0 {
				age = -age
			}
			if age > maxAge {
				return nil, ErrStale
			}
		}
	}

	if raw := values.Get("user"); raw != "" {
		var user WebAppUser
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			return nil, fmt.Errorf("unmarshalling user: %w", err)
		}
		out.User = &user
	}

	return out, nil
}

// SignInitData produces a valid signed init-data string; tests and local
// tooling use it to impersonate the Telegram client.
func SignInitData(values url.Values, botToken string) string {
	values.Del("hash")
	hash := sign(values, botToken)
	values.Set("hash", hash)
	return values.Encode()
}

func sign(values url.Values, botToken string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	dataCheck := strings.Join(lines, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(dataCheck))
	return hex.EncodeToString(mac.Sum(nil))
}
