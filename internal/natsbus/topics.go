package natsbus

import "fmt"

// Topic patterns for the upstream change feed. Every table change is
// published as feed.<table>.<operation> with a JSON payload.

func TopicFeed(table, operation string) string {
	return fmt.Sprintf("feed.%s.%s", table, operation)
}

func TopicFeedTable(table string) string {
	return fmt.Sprintf("feed.%s.*", table)
}

const TopicFeedAll = "feed.>"

// Tables the relay subscribes to at startup.
const (
	TableSwarmEvents          = "swarm_events"
	TableSwarmTasks           = "swarm_tasks"
	TableAgentStatus          = "agent_status"
	TableChallengeCompletions = "challenge_completions"
)
