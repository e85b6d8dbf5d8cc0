package protocol

import "strings"

// Message is one decoded protocol line. The first field names the command,
// the rest are its arguments in wire order.
type Message struct {
	Command string
	Fields  []string
}

// Parse decodes a single line (terminator already stripped by the reader)
// into a Message. The wire format has no escaping: every ':' is a field
// separator. An empty line carries zero fields and is reported as not ok so
// the caller can discard it silently.
func Parse(line string) (Message, bool) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return Message{}, false
	}

	parts := strings.Split(line, ":")
	return Message{
		Command: parts[0],
		Fields:  parts[1:],
	}, true
}

// Format renders a response line without the trailing terminator.
// Integers are rendered by the caller as decimal text.
func Format(command string, fields ...string) string {
	if len(fields) == 0 {
		return command
	}
	return command + ":" + strings.Join(fields, ":")
}

// Tail rejoins fields from index i onward. Message text may itself contain
// ':' which the split above has cut apart; commands whose final argument is
// free text use Tail to restore it.
func Tail(fields []string, i int) string {
	return strings.Join(fields[i:], ":")
}
