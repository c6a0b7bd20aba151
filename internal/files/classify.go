// Package files classifies uploaded documents and routes them to the remote
// file store and to assistant tools.
package files

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ashureev/docchat/internal/domain"
)

// ErrUnsupportedType is returned for files whose extension is not accepted.
var ErrUnsupportedType = errors.New("unsupported file type")

// AcceptedExtensions lists the extensions accepted at the upload boundary.
var AcceptedExtensions = []string{".pdf", ".csv", ".xlsx", ".xls", ".txt", ".docx"}

// extensionCapabilities maps an extension to the capability it implies.
var extensionCapabilities = map[string]domain.Capability{
	".csv":  domain.CapabilityDataAnalysis,
	".xlsx": domain.CapabilityDataAnalysis,
	".xls":  domain.CapabilityDataAnalysis,
	".pdf":  domain.CapabilityTextSearch,
	".txt":  domain.CapabilityTextSearch,
	".docx": domain.CapabilityTextSearch,
}

// capabilityTools maps a capability to the tools an attachment is granted.
var capabilityTools = map[domain.Capability][]domain.Tool{
	domain.CapabilityDataAnalysis: {domain.ToolCodeInterpreter},
	domain.CapabilityTextSearch:   {domain.ToolFileSearch},
	domain.CapabilityUnspecified:  {domain.ToolCodeInterpreter, domain.ToolFileSearch},
}

func extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// Classify infers a capability from the filename's extension.
func Classify(filename string) domain.Capability {
	return extensionCapabilities[extension(filename)]
}

// Accepted reports whether filename has an accepted extension.
func Accepted(filename string) bool {
	return slices.Contains(AcceptedExtensions, extension(filename))
}

// ToolsFor returns the tools granted to a file with capability c. Unknown
// capabilities get every tool.
func ToolsFor(c domain.Capability) []domain.Tool {
	tools, ok := capabilityTools[c]
	if !ok {
		tools = capabilityTools[domain.CapabilityUnspecified]
	}
	return slices.Clone(tools)
}
