package types

// OperationKind classifies usage records.
type OperationKind string

const (
	OpPull     OperationKind = "pull"
	OpStop     OperationKind = "stop"
	OpGenerate OperationKind = "generate"
	OpOther    OperationKind = "other"
)

// ParseOperationKind maps free-form input onto a known kind; unknown values become OpOther.
func ParseOperationKind(s string) OperationKind {
	switch k := OperationKind(s); k {
	case OpPull, OpStop, OpGenerate:
		return k
	default:
		return OpOther
	}
}

// PullPhase is the phase of a pull progress event.
type PullPhase string

const (
	PullDownloading PullPhase = "downloading"
	PullSuccess     PullPhase = "success"
	PullError       PullPhase = "error"
)
