// ABOUTME: Parsing and building of namespaced tool identifiers
// ABOUTME: Handles 2-level (instance__tool) and 3-level (server__instance__tool) forms

package toolname

import (
	"fmt"
	"strings"
)

// Separator joins the segments of a namespaced tool identifier.
// It must never appear inside a child-server id.
const Separator = "__"

// InvalidToolNameError indicates a tool identifier that does not match the
// expected namespaced format. It is a client error.
type InvalidToolNameError struct {
	Name     string
	Expected string
}

func (e *InvalidToolNameError) Error() string {
	return fmt.Sprintf("invalid tool name %q: expected format %s", e.Name, e.Expected)
}

// Parsed holds the segments of a fully-qualified 3-level tool identifier.
type Parsed struct {
	ChildServerID string
	InstanceName  string
	ToolName      string
}

// Parse2 splits a 2-level identifier of the form "instanceName__toolName".
// Used when the caller already knows which unified server is addressed.
// The identifier is lowercased before splitting, so names differing only
// in case address the same tool.
func Parse2(name string) (instanceName, tool string, err error) {
	parts := strings.SplitN(strings.ToLower(name), Separator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &InvalidToolNameError{Name: name, Expected: "instanceName__toolName"}
	}
	return parts[0], parts[1], nil
}

// Parse3 splits a 3-level identifier of the form
// "childServerId__instanceName__toolName". The split is applied greedily
// from the left: the child-server id never contains the separator, and the
// remainder is split exactly once more into instance name and tool name.
// Like Parse2, the identifier is lowercased first.
func Parse3(name string) (*Parsed, error) {
	parts := strings.SplitN(strings.ToLower(name), Separator, 2)
	if len(parts) != 2 || parts[0] == "" {
		return nil, &InvalidToolNameError{Name: name, Expected: "childServerId__instanceName__toolName"}
	}

	instanceName, tool, err := Parse2(parts[1])
	if err != nil {
		return nil, &InvalidToolNameError{Name: name, Expected: "childServerId__instanceName__toolName"}
	}

	return &Parsed{
		ChildServerID: parts[0],
		InstanceName:  instanceName,
		ToolName:      tool,
	}, nil
}

// Build produces the 2-level identifier "instanceName__toolName".
// Callers iterating a catalog must preserve instance display order and the
// child server's tool order: clients rely on the first listed tool being stable.
func Build(instanceName, tool string) string {
	return instanceName + Separator + tool
}

// Build3 produces the 3-level identifier "childServerId__instanceName__toolName".
func Build3(childServerID, instanceName, tool string) string {
	return childServerID + Separator + instanceName + Separator + tool
}
