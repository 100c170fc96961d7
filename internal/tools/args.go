package tools

import (
	"fmt"
	"strconv"
	"strings"
)

// Tool arguments arrive as loosely-typed key/value pairs extracted by the
// model. They are validated into typed structs here, at the dispatcher
// boundary, so a missing required field is an explicit error rather than a
// silent zero value.

const defaultNumOfMails = 10

// EmailArgs are the validated arguments for the email tool.
type EmailArgs struct {
	Functionality string
	NumOfMails    int
	ToEmail       string
	Subject       string
	Body          string
}

// DecodeEmailArgs coerces and validates raw email tool arguments.
func DecodeEmailArgs(args map[string]any) (EmailArgs, error) {
	out := EmailArgs{
		Functionality: stringArg(args, "functionality"),
		ToEmail:       stringArg(args, "to_email"),
		Subject:       stringArg(args, "subject"),
		Body:          stringArg(args, "body"),
	}

	n, err := intArg(args, "num_of_mails", defaultNumOfMails)
	if err != nil {
		return EmailArgs{}, err
	}
	out.NumOfMails = n

	switch out.Functionality {
	case "read":
		if out.NumOfMails <= 0 {
			return EmailArgs{}, fmt.Errorf("num_of_mails must be a positive integer, got %d", out.NumOfMails)
		}
	case "send":
		if out.ToEmail == "" {
			return EmailArgs{}, fmt.Errorf("missing recipient email address")
		}
	case "":
		return EmailArgs{}, fmt.Errorf("missing required argument: functionality")
	default:
		return EmailArgs{}, fmt.Errorf("unsupported email functionality: %s", out.Functionality)
	}

	return out, nil
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSpace(s)
}

// intArg coerces a JSON number or numeric string into an int.
func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		trimmed := strings.TrimSpace(n)
		if trimmed == "" {
			return def, nil
		}
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, fmt.Errorf("argument %s is not an integer: %q", key, n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("argument %s has unexpected type %T", key, v)
	}
}
