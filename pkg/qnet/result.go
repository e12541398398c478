package qnet

import (
	"strconv"
	"strings"
)

// Result codes embedded by the data portal in every well-formed response
// body. Only the codes the client acts on are named; the rest of the
// portal's standard error table is kept in resultCodeNames for diagnostics.
const (
	// ResultCodeSuccess marks a normal service response.
	ResultCodeSuccess = "00"

	// ResultCodeGeneralError is the portal's catch-all failure. It covers
	// transient internal errors, so it is the one retryable result code.
	ResultCodeGeneralError = "99"

	// ResultCodeQuotaExceeded marks the per-key daily request limit.
	ResultCodeQuotaExceeded = "22"
)

// resultCodeNames maps the portal's standard result codes to their
// OpenAPI error names, for logs and error messages.
var resultCodeNames = map[string]string{
	"00": "NORMAL_SERVICE",
	"01": "APPLICATION_ERROR",
	"02": "DB_ERROR",
	"03": "NODATA_ERROR",
	"04": "HTTP_ERROR",
	"05": "SERVICETIME_OUT",
	"10": "INVALID_REQUEST_PARAMETER_ERROR",
	"11": "NO_MANDATORY_REQUEST_PARAMETERS_ERROR",
	"12": "NO_OPENAPI_SERVICE_ERROR",
	"20": "SERVICE_ACCESS_DENIED_ERROR",
	"22": "LIMITED_NUMBER_OF_SERVICE_REQUESTS_EXCEEDS_ERROR",
	"30": "SERVICE_KEY_IS_NOT_REGISTERED_ERROR",
	"31": "DEADLINE_HAS_EXPIRED_ERROR",
	"32": "UNREGISTERED_IP_ERROR",
	"33": "UNSIGNED_CALL_ERROR",
	"99": "UNKNOWN_ERROR",
}

// ResultCodeName returns the portal's error name for a result code, or
// the code itself when unknown.
func ResultCodeName(code string) string {
	if name, ok := resultCodeNames[code]; ok {
		return name
	}
	return code
}

// ScanResult holds the markers scanned out of an upstream body.
type ScanResult struct {
	// Code is the embedded result code, empty when no marker is present.
	Code string

	// Message is the embedded result message, empty when absent.
	Message string
}

// ScanResultCode extracts the embedded result markers from a raw body.
// Bodies are scanned as text; the portal's envelope is stable enough
// that a full XML parse buys nothing here.
func ScanResultCode(body string) ScanResult {
	var res ScanResult
	if code, ok := scanBetween(body, "<resultCode>", "</resultCode>"); ok {
		res.Code = strings.TrimSpace(code)
	}
	if msg, ok := scanBetween(body, "<resultMsg>", "</resultMsg>"); ok {
		res.Message = strings.TrimSpace(msg)
	}
	return res
}

// scanTotalCount extracts the <totalCount> marker of paged responses.
// Returns -1 when no marker is present.
func scanTotalCount(body string) int {
	raw, ok := scanBetween(body, "<totalCount>", "</totalCount>")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return -1
	}
	return n
}

// scanBetween returns the text between the first occurrence of openTag
// and the following closeTag, and whether both markers were found.
func scanBetween(body, openTag, closeTag string) (string, bool) {
	start := strings.Index(body, openTag)
	if start < 0 {
		return "", false
	}
	rest := body[start+len(openTag):]
	end := strings.Index(rest, closeTag)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
