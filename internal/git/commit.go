package git

import (
	"fmt"
	"strings"
)

// BuildCommitMessage builds a commit message with machine-readable trailers
// so server-side tooling can tie commits back to tasks. The operator, when
// known, is credited as a co-author alongside the agent.
func BuildCommitMessage(title, taskID, agentID, operator string) string {
	var msg strings.Builder

	msg.WriteString(strings.TrimSpace(title))
	msg.WriteString("\n\n")
	msg.WriteString(fmt.Sprintf("Task-ID: %s\n", taskID))
	msg.WriteString(fmt.Sprintf("Agent: %s\n", agentID))
	msg.WriteString(fmt.Sprintf("Co-authored-by: %s <%s@agents.locus.dev>\n", agentID, agentID))

	if operator != "" {
		if strings.Contains(operator, "<") {
			msg.WriteString(fmt.Sprintf("Co-authored-by: %s\n", operator))
		} else {
			msg.WriteString(fmt.Sprintf("Co-authored-by: %s <%s@users.locus.dev>\n", operator, operator))
		}
	}

	return msg.String()
}
