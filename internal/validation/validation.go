// Package validation provides input validation middleware for the Aegis API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxBatchSize caps the number of transactions accepted in one batch submission
const MaxBatchSize = 500

// MaxTokenSymbolLength caps the free-text token symbol field
const MaxTokenSymbolLength = 32

// walletIDRegex matches the wallet identifiers the ingest layer accepts.
// Network identities are base-58-ish token strings, never raw bytes.
var walletIDRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,128}$`)

// txTypeRegex matches transaction type labels ("transfer", "wash_trading", ...)
var txTypeRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidWalletID checks if a string is an acceptable wallet identifier
func IsValidWalletID(id string) bool {
	return walletIDRegex.MatchString(id)
}

// IsValidTxType checks if a string is an acceptable transaction type label
func IsValidTxType(s string) bool {
	return txTypeRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// WalletParamMiddleware validates the :walletId URL parameter on routes that
// use it. Apply to route groups that include :walletId params to reject
// malformed identifiers early (no-op when the param is absent).
func WalletParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("walletId")
		if id != "" && !IsValidWalletID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_wallet_id",
				"message": "wallet id must be 1-128 alphanumeric characters",
			})
			return
		}
		c.Next()
	}
}
