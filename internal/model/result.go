package model

// Instrument error numbers. Failures are reported as ErrorCodeBase plus an offset.
const (
	ErrorCodeNoError = 0
	ErrorCodeBase    = 1800000

	ErrorCodeBusy             = ErrorCodeBase + 100
	ErrorCodeAborted          = ErrorCodeBase + 200
	ErrorCodeDarkDispatch     = ErrorCodeBase + 600
	ErrorCodeDarkPeer         = ErrorCodeBase + 601
	ErrorCodeBiasDispatch     = ErrorCodeBase + 700
	ErrorCodeBiasPeer         = ErrorCodeBase + 701
	ErrorCodeConfigBinning    = ErrorCodeBase + 803
	ErrorCodeConfigPeer       = ErrorCodeBase + 804
	ErrorCodeConfigRotorSpeed = ErrorCodeBase + 808
	ErrorCodeConfigState      = ErrorCodeBase + 809
	ErrorCodeMultrunDispatch  = ErrorCodeBase + 900
	ErrorCodeMultrunPeer      = ErrorCodeBase + 901
	ErrorCodeSetupDispatch    = ErrorCodeBase + 902
	ErrorCodeSetupPeer        = ErrorCodeBase + 903
	ErrorCodeReconcile        = ErrorCodeBase + 904
	ErrorCodeDeadline         = ErrorCodeBase + 905
	ErrorCodeRebootLevel      = ErrorCodeBase + 1400
	ErrorCodeRebootFailed     = ErrorCodeBase + 1404
	ErrorCodeAbortPeer        = ErrorCodeBase + 2400
	ErrorCodeStatus           = ErrorCodeBase + 2500
	ErrorCodeMultbiasDispatch = ErrorCodeBase + 2600
	ErrorCodeMultbiasPeer     = ErrorCodeBase + 2601
	ErrorCodeMultdarkDispatch = ErrorCodeBase + 2700
	ErrorCodeMultdarkPeer     = ErrorCodeBase + 2701
	ErrorCodeBadRequest        = ErrorCodeBase + 3000
)

// AggregateResult is the single composite outcome of a multi-peer command.
// Successful is false iff at least one peer failed or the command was cancelled.
// Filename is only ever taken from the primary peer, and only when it succeeded.
type AggregateResult struct {
	Successful    bool   `json:"successful"`
	ErrorNum      int    `json:"error_num"`
	ErrorString   string `json:"error_string"`
	Filename      string `json:"filename,omitempty"`
	FilenameCount int    `json:"filename_count,omitempty"`
	MultrunNumber int    `json:"multrun_number,omitempty"`

	// FailedPeer is the index of the first failing peer, -1 when no peer failed.
	FailedPeer     int `json:"failed_peer"`
	PeerReturnCode int `json:"peer_return_code,omitempty"`

	Status map[string]any `json:"status,omitempty"`
}

func Success() AggregateResult {
	return AggregateResult{Successful: true, ErrorNum: ErrorCodeNoError, FailedPeer: -1}
}

func Failure(code int, message string) AggregateResult {
	return AggregateResult{Successful: false, ErrorNum: code, ErrorString: message, FailedPeer: -1}
}
