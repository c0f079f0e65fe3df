package domain

// RawCallFrame is one node of a call-tracer style execution trace, as returned
// by debug_traceTransaction with the callTracer.
type RawCallFrame struct {
	Type       string                `json:"type"` // CALL, DELEGATECALL, STATICCALL, CREATE, ...
	From       string                `json:"from"`
	To         string                `json:"to"`
	Value      string                `json:"value,omitempty"`
	Gas        string                `json:"gas,omitempty"`
	GasUsed    string                `json:"gasUsed,omitempty"`
	Input      string                `json:"input,omitempty"`
	Output     string                `json:"output,omitempty"`
	Error      string                `json:"error,omitempty"`
	Calls      []RawCallFrame        `json:"calls,omitempty"`
	StructLogs []InstructionLogEntry `json:"structLogs,omitempty"`
}

// InstructionLogEntry is a single opcode step of the default struct logger.
// Only used for precise loop detection.
type InstructionLogEntry struct {
	Pc      uint64            `json:"pc"`
	Op      string            `json:"op"`
	Gas     uint64            `json:"gas"`
	GasCost uint64            `json:"gasCost"`
	Depth   int               `json:"depth"`
	Stack   []string          `json:"stack,omitempty"`
	Memory  []string          `json:"memory,omitempty"`
	Storage map[string]string `json:"storage,omitempty"`
}

// TxMeta carries the transaction and receipt fields the analyzer needs.
type TxMeta struct {
	Hash        string
	From        string
	To          string
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64 // 1=success, 0=failure
}
