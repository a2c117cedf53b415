package dsa

import "regexp"

// queueNamePattern matches safe SQL identifiers: database/sql placeholders
// cover values, never identifiers, so queue names are validated against this
// pattern before being interpolated into DDL/table names.
var queueNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

func validateQueueName(queue string) error {
	if !queueNamePattern.MatchString(queue) {
		return ErrInvalidQueueName
	}
	return nil
}

func tasksTable(queue string) string       { return "t_" + queue }
func runsTable(queue string) string        { return "r_" + queue }
func checkpointsTable(queue string) string { return "c_" + queue }
func eventsTable(queue string) string      { return "e_" + queue }
func waitersTable(queue string) string     { return "w_" + queue }
