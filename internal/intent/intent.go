// Package intent parses the structured extraction an assistant produces from
// a free-form transfer instruction. Parsing is strict: partial or malformed
// extractions are rejected before any chain is touched.
package intent

import (
	"encoding/xml"
	"regexp"
	"strings"

	xerrors "crosschain-transfer/internal/errors"
	"crosschain-transfer/internal/transfer"
)

const (
	CodeNotTransfer     xerrors.Code = "NOT_A_TRANSFER"
	CodeMalformedIntent xerrors.Code = "MALFORMED_INTENT"
)

func init() {
	xerrors.Register(CodeNotTransfer, xerrors.Attributes{Message: "not a token transfer request", Severity: xerrors.SeverityInfo, HTTPStatus: 400})
	xerrors.Register(CodeMalformedIntent, xerrors.Attributes{Message: "malformed transfer intent", Severity: xerrors.SeverityInfo, HTTPStatus: 400})
}

// Template is the extraction prompt whose output Parse accepts.
const Template = `Extract the token symbol, amount, chain name, and recipient address from the user's message.

User message: "{{userMessage}}"

Return the values in this XML format:
<response>
<token>TOKEN_SYMBOL</token>
<amount>AMOUNT</amount>
<chain>CHAIN_NAME</chain>
<to>RECIPIENT_ADDRESS</to>
</response>

If the message is not a token transfer request, return:
<response>
<error>Not a token transfer request</error>
</response>`

var (
	amountPattern  = regexp.MustCompile(`^[0-9]*\.?[0-9]+$`)
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

type extraction struct {
	XMLName xml.Name `xml:"response"`
	Token   *string  `xml:"token"`
	Amount  *string  `xml:"amount"`
	Chain   *string  `xml:"chain"`
	To      *string  `xml:"to"`
	Error   *string  `xml:"error"`
}

// Prompt fills the extraction template with the user's message.
func Prompt(message string) string {
	return strings.Replace(Template, "{{userMessage}}", message, 1)
}

// Parse extracts a transfer request from the first <response> element of text.
func Parse(text string) (transfer.Request, error) {
	block, ok := responseBlock(text)
	if !ok {
		return transfer.Request{}, xerrors.New(CodeMalformedIntent, "missing <response> element")
	}
	var ex extraction
	if err := xml.Unmarshal([]byte(block), &ex); err != nil {
		return transfer.Request{}, xerrors.Wrap(CodeMalformedIntent, err, "invalid <response> element")
	}
	if ex.Error != nil {
		reason := strings.TrimSpace(*ex.Error)
		if reason == "" {
			reason = "Not a token transfer request"
		}
		return transfer.Request{}, xerrors.New(CodeNotTransfer, reason)
	}

	fields := []struct {
		name  string
		value *string
	}{
		{"token", ex.Token},
		{"amount", ex.Amount},
		{"chain", ex.Chain},
		{"to", ex.To},
	}
	for _, f := range fields {
		if f.value == nil || strings.TrimSpace(*f.value) == "" {
			return transfer.Request{}, xerrors.New(CodeMalformedIntent, "missing <"+f.name+">")
		}
	}

	amount := strings.TrimSpace(*ex.Amount)
	if !amountPattern.MatchString(amount) {
		return transfer.Request{}, xerrors.New(CodeMalformedIntent, "Amount must be a number as a string")
	}
	to := strings.TrimSpace(*ex.To)
	if !addressPattern.MatchString(to) {
		return transfer.Request{}, xerrors.New(CodeMalformedIntent, "Invalid Ethereum address")
	}

	return transfer.Request{
		Token:            strings.ToUpper(strings.TrimSpace(*ex.Token)),
		ChainDestination: strings.ToLower(strings.TrimSpace(*ex.Chain)),
		Recipient:        to,
		Amount:           amount,
	}, nil
}

func responseBlock(text string) (string, bool) {
	start := strings.Index(text, "<response>")
	if start < 0 {
		return "", false
	}
	end := strings.Index(text[start:], "</response>")
	if end < 0 {
		return "", false
	}
	return text[start : start+end+len("</response>")], true
}
