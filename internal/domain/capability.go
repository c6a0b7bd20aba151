package domain

// Capability is the processing mode inferred from a document's type.
type Capability string

const (
	// CapabilityUnspecified means the type could not be determined.
	CapabilityUnspecified Capability = ""
	// CapabilityDataAnalysis routes spreadsheets to code execution.
	CapabilityDataAnalysis Capability = "structured_data_analysis"
	// CapabilityTextSearch routes prose documents to retrieval.
	CapabilityTextSearch Capability = "text_search"
)

// Label returns a short human readable name.
func (c Capability) Label() string {
	switch c {
	case CapabilityDataAnalysis:
		return "Data Analysis"
	case CapabilityTextSearch:
		return "Text Search"
	default:
		return ""
	}
}

// Tool is a remote assistant tool.
type Tool string

const (
	ToolCodeInterpreter Tool = "code_interpreter"
	ToolFileSearch      Tool = "file_search"
)
