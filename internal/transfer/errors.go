package transfer

import (
	"fmt"

	xerrors "crosschain-transfer/internal/errors"
)

const (
	CodeValidationFailed xerrors.Code = "VALIDATION_FAILED"
	CodeChainCallFailed  xerrors.Code = "CHAIN_CALL_FAILED"
	CodeNoEligibleSource xerrors.Code = "NO_ELIGIBLE_SOURCE"
)

// NoEligibleSourceMessage 是扫描耗尽时返回给调用方的文案。
const NoEligibleSourceMessage = "No eligible chain found with sufficient balance."

func init() {
	xerrors.Register(CodeValidationFailed, xerrors.Attributes{
		Message:    "transfer request validation failed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: 400,
	})
	xerrors.Register(CodeChainCallFailed, xerrors.Attributes{
		Message:    "chain call failed",
		Severity:   xerrors.SeverityCritical,
		Alert:      true,
		HTTPStatus: 500,
	})
	xerrors.Register(CodeNoEligibleSource, xerrors.Attributes{
		Message:    "no eligible source chain",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: 400,
	})
}

func validationError(message string) error {
	return xerrors.New(CodeValidationFailed, message)
}

func noEligibleSource() error {
	return xerrors.New(CodeNoEligibleSource, NoEligibleSourceMessage)
}

// chainError 描述某条链上的能力调用失败，请求随之中止。
func chainError(chainID, step string, cause error) error {
	return xerrors.Wrap(CodeChainCallFailed, cause, fmt.Sprintf("Error on %s", chainID),
		xerrors.WithMetadata("chain_id", chainID),
		xerrors.WithMetadata("step", step),
	)
}

// FailedChain 返回导致请求中止的链 ID，非链调用错误返回空字符串。
func FailedChain(err error) string {
	if xerrors.CodeOf(err) != CodeChainCallFailed {
		return ""
	}
	return xerrors.MetadataOf(err)["chain_id"]
}
